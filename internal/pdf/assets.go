package pdf

import (
	"io"
	"strconv"

	"github.com/ledongthuc/pdf"
)

const (
	pointsPerMM  = 72.0 / 25.4
	a4HeightPt   = PageHeight * pointsPerMM
	maxStreamLen = 16 * 1024 * 1024
)

// extractImagesFromPages returns every image drawn on every page.
func extractImagesFromPages(r *pdf.Reader) []ImageInfo {
	var images []ImageInfo
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		images = append(images, extractImagesFromPage(r.Page(pageNum), pageNum)...)
	}
	return images
}

// extractImagesFromPage pairs each "cm ... /Name Do" in the page content
// with its image XObject.
func extractImagesFromPage(page pdf.Page, pageNum int) (images []ImageInfo) {
	defer func() {
		// A malformed page must not break inspection of the others.
		if recover() != nil {
			images = nil
		}
	}()

	if page.V.IsNull() {
		return nil
	}

	xObjects := inherited(page.V, "Resources").Key("XObject")
	if xObjects.IsNull() || xObjects.Kind() != pdf.Dict {
		return nil
	}

	pageHeight := a4HeightPt
	if box := inherited(page.V, "MediaBox"); box.Kind() == pdf.Array && box.Len() == 4 {
		pageHeight = box.Index(3).Float64() - box.Index(1).Float64()
	}

	for _, draw := range scanDraws(readContents(page.V.Key("Contents"))) {
		obj := xObjects.Key(draw.name)
		if obj.IsNull() || obj.Key("Subtype").Name() != "Image" {
			continue
		}
		a, d, e, f := draw.matrix[0], draw.matrix[3], draw.matrix[4], draw.matrix[5]
		images = append(images, ImageInfo{
			Name:       draw.name,
			PageNumber: pageNum,
			X:          e / pointsPerMM,
			Y:          (pageHeight - f - d) / pointsPerMM,
			W:          a / pointsPerMM,
			H:          d / pointsPerMM,
			PixelW:     int(obj.Key("Width").Int64()),
			PixelH:     int(obj.Key("Height").Int64()),
			Format:     normalizeImageFormat(obj.Key("Filter").Name()),
		})
	}
	return images
}

// inherited looks a page attribute up the page tree.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if val := v.Key(key); !val.IsNull() {
			return val
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

func readContents(contents pdf.Value) []byte {
	var out []byte
	switch contents.Kind() {
	case pdf.Stream:
		out = append(out, readStream(contents)...)
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			out = append(out, readStream(contents.Index(i))...)
			out = append(out, '\n')
		}
	}
	return out
}

func readStream(v pdf.Value) []byte {
	rc := v.Reader()
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxStreamLen))
	if err != nil {
		return nil
	}
	return data
}

type xobjectDraw struct {
	name   string
	matrix [6]float64
}

// scanDraws tokenizes a content stream and reports XObject invocations with
// the transformation matrix most recently set by "cm". String operands are
// skipped so submitted text can never be mistaken for operators.
func scanDraws(content []byte) []xobjectDraw {
	var (
		draws    []xobjectDraw
		operands []float64
		matrix   [6]float64
		name     string
	)

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			i = skipLiteralString(content, i)
		case c == '<':
			for i < len(content) && content[i] != '>' {
				i++
			}
			i++
		case c == '[' || c == ']' || c == '{' || c == '}':
			i++
		default:
			start := i
			i++
			for i < len(content) && !isSpace(content[i]) && !isDelimiter(content[i]) {
				i++
			}
			tok := string(content[start:i])

			if tok[0] == '/' {
				name = tok[1:]
				continue
			}
			if n, err := strconv.ParseFloat(tok, 64); err == nil {
				operands = append(operands, n)
				continue
			}

			switch tok {
			case "cm":
				if len(operands) >= 6 {
					copy(matrix[:], operands[len(operands)-6:])
				}
			case "Do":
				if name != "" {
					draws = append(draws, xobjectDraw{name: name, matrix: matrix})
				}
			case "Q":
				matrix = [6]float64{}
			}
			operands = operands[:0]
			name = ""
		}
	}
	return draws
}

func skipLiteralString(content []byte, i int) int {
	depth := 0
	for ; i < len(content); i++ {
		switch content[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// normalizeImageFormat converts PDF filter names to readable format names
func normalizeImageFormat(filterName string) string {
	switch filterName {
	case "DCTDecode":
		return "JPEG"
	case "JPXDecode":
		return "JPEG2000"
	case "FlateDecode":
		return "PNG/Deflate"
	case "LZWDecode":
		return "LZW"
	default:
		if filterName != "" {
			return filterName
		}
		return "unknown"
	}
}
