package keepui

import (
	"fmt"
	"net/url"
	"strings"
)

// Pure functions over a (blobref, meta bag) input. Nothing here touches the
// network. Views read these through a session snapshot and must not mutate
// the bag.

// GetSingleAttr treats the string and length-1 sequence wire forms
// equivalently. Missing key, empty sequence and empty string all report
// absent.
func GetSingleAttr(pn *Permanode, name string) (string, bool) {
	if pn == nil {
		return "", false
	}
	values, ok := pn.Attr[name]
	if !ok || len(values) != 1 || values[0] == "" {
		return "", false
	}
	return values[0], true
}

// attrValues returns the attribute's sequence form, nil when absent.
func attrValues(pn *Permanode, name string) AttrValues {
	if pn == nil {
		return nil
	}
	return pn.Attr[name]
}

// ResolvedMeta follows a permanode's camliContent exactly one hop.
//   - permanode with a single camliContent whose target is in the bag:
//     the target's meta
//   - permanode with camliContent but the target missing from the bag: nil
//   - anything else present in the bag: the meta itself
func ResolvedMeta(bag MetaBag, ref string) *Meta {
	m := bag[ref]
	if m == nil {
		return nil
	}
	if m.CamliType != TypePermanode || m.Permanode == nil {
		return m
	}
	content, ok := GetSingleAttr(m.Permanode, AttrContent)
	if !ok {
		return m
	}
	// one level of indirection only. The target may itself be a permanode,
	// it is returned as is.
	return bag[content]
}

// Title derives the display title for ref, in priority order:
// own title attribute, resolved file name, resolved directory name,
// resolved permanode's title attribute, "Unknown title".
// An empty string attribute or file name is explicitly empty and
// short-circuits the fallback.
func Title(bag MetaBag, ref string) string {
	m := bag[ref]
	if m != nil && m.CamliType == TypePermanode {
		if values := attrValues(m.Permanode, AttrTitle); 0 < len(values) {
			return values[0]
		}
	}

	rm := ResolvedMeta(bag, ref)
	if rm != nil {
		if rm.CamliType == TypeFile && rm.File != nil {
			return rm.File.FileName
		}
		if rm.CamliType == TypeDirectory && rm.Dir != nil {
			return rm.Dir.FileName
		}
		if rm.CamliType == TypePermanode {
			if values := attrValues(rm.Permanode, AttrTitle); 0 < len(values) {
				return values[0]
			}
		}
	}

	return "Unknown title"
}

// IsContainer reports whether the permanode is a dynamic collection:
// any camliMember attribute or any camliPath:* named child.
func IsContainer(pn *Permanode) bool {
	if pn == nil {
		return false
	}
	for name, values := range pn.Attr {
		if len(values) == 0 {
			continue
		}
		if name == AttrMember || strings.HasPrefix(name, AttrPathPrefix) {
			return true
		}
	}
	return false
}

// IsStaticCollection reports whether the meta is an immutable collection blob.
func IsStaticCollection(m *Meta) bool {
	if m == nil {
		return false
	}
	return m.CamliType == TypeDirectory || m.CamliType == TypeStaticSet
}

type ThumbKind string

const (
	ThumbKindImage  ThumbKind = "image"
	ThumbKindFile   ThumbKind = "file"
	ThumbKindFolder ThumbKind = "folder"
)

// ClassifyThumb picks the thumbnail class for ref.
func ClassifyThumb(bag MetaBag, ref string) (ThumbKind, error) {
	m := bag[ref]
	if m == nil {
		return "", fmt.Errorf("%w: %s not described", ErrUnknownThumbType, ref)
	}
	rm := ResolvedMeta(bag, ref)
	if rm != nil && rm.Image != nil {
		return ThumbKindImage, nil
	}
	if rm != nil && rm.CamliType == TypeFile {
		return ThumbKindFile, nil
	}
	if IsStaticCollection(rm) {
		return ThumbKindFolder, nil
	}
	if m.CamliType == TypePermanode && IsContainer(m.Permanode) {
		return ThumbKindFolder, nil
	}
	return ThumbKindFile, nil
}

const fileThumbAspect = 260.0 / 300.0

// ThumbAspect returns width/height for the thumbnail class of ref.
func ThumbAspect(bag MetaBag, ref string) (float64, error) {
	kind, err := ClassifyThumb(bag, ref)
	if err != nil {
		return 0, err
	}
	switch kind {
	case ThumbKindImage:
		rm := ResolvedMeta(bag, ref)
		if rm == nil || rm.Image == nil || rm.Image.Height == 0 {
			return 0, fmt.Errorf("%w: image without dimensions", ErrUnknownThumbType)
		}
		return float64(rm.Image.Width) / float64(rm.Image.Height), nil
	case ThumbKindFile:
		return fileThumbAspect, nil
	case ThumbKindFolder:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownThumbType, kind)
	}
}

// server-side thumbnail cache sizes, bucketed upward
var thumbnailSizes = []int{64, 128, 256, 375, 500, 750, 1000, 1500, 2000}

func bucketThumbnailHeight(requested int) int {
	for _, size := range thumbnailSizes {
		if requested <= size {
			return size
		}
	}
	return thumbnailSizes[len(thumbnailSizes)-1]
}

// static icon assets for non-image classes
const folderIconPath = "folder.png"
const fileIconPath = "file.png"

// ThumbnailURL returns the server path for a thumbnail of m at the bucketed
// height, or a static icon path for non-images.
func ThumbnailURL(bag MetaBag, ref string, requestedHeight int, thumbVersion int) string {
	kind, err := ClassifyThumb(bag, ref)
	if err != nil || kind != ThumbKindImage {
		if kind == ThumbKindFolder {
			return folderIconPath
		}
		return fileIconPath
	}

	rm := ResolvedMeta(bag, ref)
	name := rm.BlobRef.String()
	if rm.File != nil && rm.File.FileName != "" {
		name = rm.File.FileName
	}
	mh := bucketThumbnailHeight(requestedHeight)
	return fmt.Sprintf(
		"thumbnail/%s/%s.jpg?mh=%d&tv=%d",
		rm.BlobRef,
		url.PathEscape(name),
		mh,
		thumbVersion,
	)
}

// Thumber holds the last served height so layout jitter does not thrash the
// server-side thumbnail cache: a request at or below the last height reuses
// it, a larger request advances to the next bucket.
type Thumber struct {
	lastHeight int
}

func NewThumber() *Thumber {
	return &Thumber{}
}

func (self *Thumber) Height(requestedHeight int) int {
	if requestedHeight <= self.lastHeight {
		return self.lastHeight
	}
	self.lastHeight = bucketThumbnailHeight(requestedHeight)
	return self.lastHeight
}

func (self *Thumber) URL(bag MetaBag, ref string, requestedHeight int, thumbVersion int) string {
	return ThumbnailURL(bag, ref, self.Height(requestedHeight), thumbVersion)
}
