package pdf

// ImageInfo describes an image XObject drawn on a page. Coordinates are in
// millimetres from the top-left corner, matching the composer's layout.
type ImageInfo struct {
	Name       string  `json:"name"`
	PageNumber int     `json:"page_number"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	PixelW     int     `json:"pixel_width"`
	PixelH     int     `json:"pixel_height"`
	Format     string  `json:"format"`
}

// Inspection is the result of reading back a generated document.
type Inspection struct {
	Path    string      `json:"path,omitempty"`
	Size    int64       `json:"size"`
	Valid   bool        `json:"valid"`
	Message string      `json:"message,omitempty"`
	Pages   int         `json:"pages"`
	Meta    Metadata    `json:"metadata"`
	Content string      `json:"content"`
	Images  []ImageInfo `json:"images"`
	Footer  *Footer     `json:"footer,omitempty"`
}

// Footer holds the values parsed from a document footer line.
type Footer struct {
	Date   string `json:"date"`
	Serial string `json:"serial"`
}
