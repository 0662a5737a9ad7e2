package descriptions

import "sort"

// Tool names.
const (
	FormList             = "form_list"
	FormDescribe         = "form_describe"
	FormGenerate         = "form_generate"
	FormDocumentInspect  = "form_document_inspect"
	UserDocuments        = "user_documents"
	FormServerInfo       = "form_server_info"
	DefaultToolNotLoaded = "Tool description not available"
)

// Tool descriptions with practical examples and use cases
const (
	FormListDescription = `List every application form the server can generate.

**When to use:** Before generating a document, to find the form id the user means ("general", "upsc", ...).

**Why it's useful:** Shows each form's id, title and number of fields so the right schema can be picked without guessing.

**Examples:**
• Discover forms: "Which application forms are available?"
• Pick a form: "Find the form id for the UPSC application"

**Common workflows:**
1. Generation: form_list → form_describe → form_generate
2. Audit: form_list → form_describe for each form to review field labels

**Best practices:** Use the id exactly as listed; form ids are case sensitive.`

	FormDescribeDescription = `Show the ordered field list of one form, with each field's type and placement.

**When to use:** Need to know which answers and uploads a form expects before calling form_generate.

**Why it's useful:** Text and date fields become bordered rows in declared order. Photo fields are placed top right, signature fields below the rows with a caption, and other file fields are cited by file name.

**Examples:**
• Prepare answers: "What fields does the general form need?"
• Check uploads: "Does the upsc form take a signature?"

**Common workflows:**
1. Collect answers: form_describe → ask the user for each field → form_generate

**Best practices:** Field names (not labels) are the keys for the values and files arguments of form_generate.`

	FormGenerateDescription = `Generate a single-page PDF for a user from a form and the submitted answers.

**When to use:** The user has filled in a form and wants the finished application document.

**Why it's useful:** Renders the title, one bordered row per answer, the photo and signature images, and a footer with the generation date and a unique 8 character serial number. The file is stored and recorded in the user's document history.

**Examples:**
• Generate: form_id "general", user_id "jane", values {"full_name": "Jane Doe"}
• With uploads: files {"photo": "a1_photo.png", "signature": "b2_sign.jpg"} (paths relative to the upload directory)

**Common workflows:**
1. Application: form_describe → form_generate → form_document_inspect to confirm the footer serial
2. Resubmission: form_generate again; earlier documents stay in user_documents

**Best practices:** Omitted photo or signature paths fall back to the uploads saved on the user's profile. Missing answers render as empty rows; no field is required.`

	FormDocumentInspectDescription = `Validate a generated document and report its text, embedded images and footer.

**When to use:** Confirm a generated document is well formed, or read back its serial number and date.

**Why it's useful:** Checks the PDF structure, extracts the rendered text, lists embedded images with their position and size in millimetres, and parses the "Date / Serial No" footer.

**Examples:**
• Verify: "Check jane_general_20261016_093005.pdf is valid"
• Receipt lookup: "What serial number is on Jane's last application?"

**Common workflows:**
1. Quality check: form_generate → form_document_inspect
2. Support: user_documents → form_document_inspect on the newest file

**Best practices:** Pass the file name returned by form_generate or listed by user_documents.`

	UserDocumentsDescription = `List the documents generated for a user, oldest first.

**When to use:** Show a user's application history or find a document to inspect or download.

**Why it's useful:** Reads the user's record directly, so the list always reflects the stored history, and flags entries whose file is missing on disk.

**Examples:**
• History: "What applications has jane generated?"

**Common workflows:**
1. Download: user_documents → pick a file → /artifacts/{filename} in server mode

**Best practices:** The user must exist in the user store.`

	FormServerInfoDescription = `Get server information, available forms and tools, and storage settings.

**When to use:** First call in a session, or when troubleshooting configuration.

**Why it's useful:** Reports version, artifact and upload directories, image size limit, collision policy, user store type, forms and tool usage in one place.

**Best practices:** Start here when unsure what the server can do.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	FormList:            FormListDescription,
	FormDescribe:        FormDescribeDescription,
	FormGenerate:        FormGenerateDescription,
	FormDocumentInspect: FormDocumentInspectDescription,
	UserDocuments:       UserDocumentsDescription,
	FormServerInfo:      FormServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return DefaultToolNotLoaded
}

// GetAllToolNames returns all tool names in sorted order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
