package keepui

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func testBag() MetaBag {
	return MetaBag{
		"a": &Meta{
			CamliType: TypeFile,
			File:      &FileInfo{FileName: "foo.txt"},
		},
		"b": &Meta{
			CamliType: TypePermanode,
			Permanode: &Permanode{
				Attr: map[string]AttrValues{
					AttrContent: {"a"},
					AttrTitle:   {"permanode b"},
				},
			},
		},
		"b2": &Meta{
			CamliType: TypePermanode,
			Permanode: &Permanode{
				Attr: map[string]AttrValues{
					AttrContent: {"a"},
				},
			},
		},
		"d": &Meta{
			CamliType: TypePermanode,
			Permanode: &Permanode{
				Attr: map[string]AttrValues{
					AttrContent: {"b"},
				},
			},
		},
		"e": &Meta{
			CamliType: TypePermanode,
			Permanode: &Permanode{
				Attr: map[string]AttrValues{
					AttrContent: {"missing"},
				},
			},
		},
		"a2": &Meta{
			CamliType: TypeFile,
			File:      &FileInfo{},
		},
	}
}

func TestResolvedMeta(t *testing.T) {
	bag := testBag()

	assert.Equal(t, bag["a"], ResolvedMeta(bag, "b"))
	// only one level of indirection is followed
	assert.Equal(t, bag["b"], ResolvedMeta(bag, "d"))
	// dangling camliContent
	assert.Equal(t, (*Meta)(nil), ResolvedMeta(bag, "e"))
	// not in the bag at all
	assert.Equal(t, (*Meta)(nil), ResolvedMeta(bag, "z"))
	// non-permanodes resolve to themselves
	assert.Equal(t, bag["a"], ResolvedMeta(bag, "a"))
}

func TestTitle(t *testing.T) {
	bag := testBag()

	assert.Equal(t, "foo.txt", Title(bag, "a"))
	assert.Equal(t, "foo.txt", Title(bag, "b2"))
	// own title wins over the resolved file name
	assert.Equal(t, "permanode b", Title(bag, "b"))
	// file with no fileName is explicitly empty, not the fallback
	assert.Equal(t, "", Title(bag, "a2"))
	assert.Equal(t, "Unknown title", Title(bag, "e"))
}

func TestGetSingleAttr(t *testing.T) {
	pn := &Permanode{
		Attr: map[string]AttrValues{
			"one":   {"x"},
			"empty": {""},
			"none":  {},
			"two":   {"x", "y"},
		},
	}

	value, ok := GetSingleAttr(pn, "one")
	assert.Equal(t, true, ok)
	assert.Equal(t, "x", value)

	_, ok = GetSingleAttr(pn, "empty")
	assert.Equal(t, false, ok)
	_, ok = GetSingleAttr(pn, "none")
	assert.Equal(t, false, ok)
	_, ok = GetSingleAttr(pn, "missing")
	assert.Equal(t, false, ok)
	_, ok = GetSingleAttr(pn, "two")
	assert.Equal(t, false, ok)
	_, ok = GetSingleAttr(nil, "one")
	assert.Equal(t, false, ok)
}

func TestIsContainer(t *testing.T) {
	member := &Permanode{
		Attr: map[string]AttrValues{
			AttrMember: {"sha224-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		},
	}
	path := &Permanode{
		Attr: map[string]AttrValues{
			"camliPath:photos": {"sha224-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		},
	}
	plain := &Permanode{
		Attr: map[string]AttrValues{
			AttrTitle: {"nope"},
		},
	}

	assert.Equal(t, true, IsContainer(member))
	assert.Equal(t, true, IsContainer(path))
	assert.Equal(t, false, IsContainer(plain))
	assert.Equal(t, false, IsContainer(nil))
}

func TestIsStaticCollection(t *testing.T) {
	assert.Equal(t, true, IsStaticCollection(&Meta{CamliType: TypeDirectory}))
	assert.Equal(t, true, IsStaticCollection(&Meta{CamliType: TypeStaticSet}))
	assert.Equal(t, false, IsStaticCollection(&Meta{CamliType: TypeFile}))
	assert.Equal(t, false, IsStaticCollection(nil))
}

func TestClassifyThumb(t *testing.T) {
	bag := testBag()
	bag["img"] = &Meta{
		CamliType: TypeFile,
		File:      &FileInfo{FileName: "cat.jpg"},
		Image:     &ImageInfo{Width: 800, Height: 600},
	}
	bag["dir"] = &Meta{
		CamliType: TypeDirectory,
		Dir:       &DirInfo{FileName: "docs"},
	}
	bag["set"] = &Meta{
		CamliType: TypePermanode,
		Permanode: &Permanode{
			Attr: map[string]AttrValues{
				AttrMember: {"a"},
			},
		},
	}

	kind, err := ClassifyThumb(bag, "img")
	assert.Equal(t, err, nil)
	assert.Equal(t, ThumbKindImage, kind)

	kind, _ = ClassifyThumb(bag, "a")
	assert.Equal(t, ThumbKindFile, kind)

	kind, _ = ClassifyThumb(bag, "dir")
	assert.Equal(t, ThumbKindFolder, kind)

	kind, _ = ClassifyThumb(bag, "set")
	assert.Equal(t, ThumbKindFolder, kind)

	_, err = ClassifyThumb(bag, "zzz")
	assert.NotEqual(t, err, nil)
}

func TestThumbAspect(t *testing.T) {
	bag := testBag()
	bag["img"] = &Meta{
		CamliType: TypeFile,
		File:      &FileInfo{FileName: "cat.jpg"},
		Image:     &ImageInfo{Width: 800, Height: 600},
	}
	bag["dir"] = &Meta{
		CamliType: TypeDirectory,
	}

	aspect, err := ThumbAspect(bag, "img")
	assert.Equal(t, err, nil)
	assert.Equal(t, 800.0/600.0, aspect)

	aspect, err = ThumbAspect(bag, "a")
	assert.Equal(t, err, nil)
	assert.Equal(t, 260.0/300.0, aspect)

	aspect, err = ThumbAspect(bag, "dir")
	assert.Equal(t, err, nil)
	assert.Equal(t, 1.0, aspect)

	_, err = ThumbAspect(bag, "zzz")
	assert.NotEqual(t, err, nil)
}

func TestStickyThumber(t *testing.T) {
	thumber := NewThumber()

	requested := []int{100, 128, 129, 256, 100, 65, 50, 1999, 2000, 2001}
	expected := []int{128, 128, 256, 256, 256, 256, 256, 2000, 2000, 2000}

	for i, height := range requested {
		assert.Equal(t, expected[i], thumber.Height(height))
	}
}

func TestStickyThumberNonIncreasing(t *testing.T) {
	// a monotonically non-increasing request sequence keeps mh constant
	thumber := NewThumber()
	first := thumber.Height(300)
	for _, height := range []int{300, 299, 200, 64, 1} {
		assert.Equal(t, first, thumber.Height(height))
	}
}

func TestThumbnailURL(t *testing.T) {
	bag := MetaBag{}
	imgRef := HashString("image blob")
	bag[imgRef.String()] = &Meta{
		BlobRef:   imgRef,
		CamliType: TypeFile,
		File:      &FileInfo{FileName: "cat.jpg"},
		Image:     &ImageInfo{Width: 800, Height: 600},
	}
	bag["dir"] = &Meta{CamliType: TypeDirectory}

	u := ThumbnailURL(bag, imgRef.String(), 100, 7)
	assert.Equal(t, fmt.Sprintf("thumbnail/%s/cat.jpg.jpg?mh=128&tv=7", imgRef), u)

	assert.Equal(t, folderIconPath, ThumbnailURL(bag, "dir", 100, 7))
	assert.Equal(t, fileIconPath, ThumbnailURL(bag, "a", 100, 7))
}
