package keepui

import (
	"encoding/json"
)

// camliType values used on the wire
const (
	TypePermanode = "permanode"
	TypeFile      = "file"
	TypeDirectory = "directory"
	TypeStaticSet = "static-set"
	TypeClaim     = "claim"
)

// reserved permanode attributes consumed by the core
const (
	AttrContent      = "camliContent"
	AttrContentImage = "camliContentImage"
	AttrMember       = "camliMember"
	AttrPathPrefix   = "camliPath:"
	AttrTitle        = "title"
	AttrDescription  = "description"
	AttrTag          = "tag"
	AttrRoot         = "camliRoot"
	AttrNodeType     = "camliNodeType"
)

// AttrValues accepts both wire forms of a permanode attribute value:
// a single string or an ordered sequence of strings.
// It always stores the sequence form.
type AttrValues []string

func (self *AttrValues) UnmarshalJSON(src []byte) error {
	if 0 < len(src) && src[0] == '"' {
		var single string
		if err := json.Unmarshal(src, &single); err != nil {
			return err
		}
		*self = AttrValues{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(src, &many); err != nil {
		return err
	}
	*self = AttrValues(many)
	return nil
}

// Permanode is the mutable-object state folded from a permanode's claims.
type Permanode struct {
	Attr    map[string]AttrValues `json:"attr"`
	ModTime string                `json:"modtime,omitempty"`
}

type FileInfo struct {
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type DirInfo struct {
	FileName string `json:"fileName,omitempty"`
}

type ImageInfo struct {
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Meta is the server-returned description of one blob.
type Meta struct {
	BlobRef   BlobRef    `json:"blobRef"`
	CamliType string     `json:"camliType,omitempty"`
	Size      int64      `json:"size,omitempty"`
	File      *FileInfo  `json:"file,omitempty"`
	Dir       *DirInfo   `json:"dir,omitempty"`
	Image     *ImageInfo `json:"image,omitempty"`
	Permanode *Permanode `json:"permanode,omitempty"`

	ThumbnailSrc    string `json:"thumbnailSrc,omitempty"`
	ThumbnailWidth  int    `json:"thumbnailWidth,omitempty"`
	ThumbnailHeight int    `json:"thumbnailHeight,omitempty"`
}

// MetaBag maps blobref strings to their descriptions.
// Partial bags are legal. Resolution tolerates dangling references.
type MetaBag map[string]*Meta

// FileTreeNode is one entry of a directory listing.
type FileTreeNode struct {
	BlobRef  BlobRef         `json:"blobRef"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Children []*FileTreeNode `json:"children,omitempty"`
}
