package classfile

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"

	"github.com/wippyai/jclassfile/errors"
)

// Class-file major versions with behavior changes.
const (
	MajorJava1   = 45
	MajorJava5   = 49
	MajorJava6   = 50 // first version carrying StackMapTable
	MajorJava7   = 51 // frames mandatory, jsr/ret forbidden
	MajorJava8   = 52
	MajorJava11  = 55
	MajorJava17  = 61
	MajorJava21  = 65
	MajorLatest  = 69
	previewMinor = 0xFFFF
)

// Version is a class-file version. It is also a class element: sending one to
// a ClassBuilder sets the output version.
type Version struct {
	Major int
	Minor int
}

// LatestVersion is the default version of built classes.
var LatestVersion = Version{Major: MajorLatest}

// VersionForRelease maps a Java release string ("1.4", "1.8", "11", "17.0.2")
// to the class-file version a compiler targets for it.
func VersionForRelease(release string) (Version, error) {
	v, err := goversion.NewVersion(release)
	if err != nil {
		return Version{}, errors.IllegalArgument(errors.PhaseBuild, "invalid release %q: %v", release, err)
	}
	seg := v.Segments()
	feature := seg[0]
	if feature == 1 && len(seg) > 1 && seg[1] > 0 {
		feature = seg[1]
	}
	switch {
	case feature < 1:
		return Version{}, errors.IllegalArgument(errors.PhaseBuild, "invalid release %q", release)
	case feature == 1:
		return Version{Major: MajorJava1, Minor: 3}, nil
	}
	major := 44 + feature
	if major > MajorLatest {
		return Version{}, errors.IllegalArgument(errors.PhaseBuild, "release %q is newer than supported", release)
	}
	return Version{Major: major}, nil
}

// Release returns the Java feature release for the version.
func (v Version) Release() int {
	if v.Major <= MajorJava1 {
		return 1
	}
	return v.Major - 44
}

// IsPreview reports whether the minor version marks preview features.
func (v Version) IsPreview() bool {
	return v.Minor == previewMinor
}

// HasStackMaps reports whether methods of this version may carry frames.
func (v Version) HasStackMaps() bool {
	return v.Major >= MajorJava6
}

// RequiresStackMaps reports whether the verifier insists on frames.
func (v Version) RequiresStackMaps() bool {
	return v.Major >= MajorJava7
}

// AllowsSubroutines reports whether jsr and ret are legal.
func (v Version) AllowsSubroutines() bool {
	return v.Major < MajorJava7
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (Version) isClassElement() {}
