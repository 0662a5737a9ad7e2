package pdf

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// Metadata is the document information dictionary.
type Metadata struct {
	Title        string `json:"title,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	CreationDate string `json:"creation_date,omitempty"`
}

// extractMetadata reads the Info dictionary. Missing or malformed entries
// are left empty.
func extractMetadata(r *pdf.Reader) (meta Metadata) {
	defer func() {
		if recover() != nil {
			meta = Metadata{}
		}
	}()

	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return meta
	}

	text := func(key string) string {
		v := info.Key(key)
		if v.IsNull() {
			return ""
		}
		return strings.TrimSpace(v.Text())
	}

	meta.Title = text("Title")
	meta.Creator = text("Creator")
	meta.Producer = text("Producer")
	meta.CreationDate = text("CreationDate")
	return meta
}
