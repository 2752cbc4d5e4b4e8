package dictionary

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileCode is the identity encoded in an extracted survey file name, e.g.
// "511.CMMR71.DCF": survey 511, Cameroon (cm), men's recode (mr), version 71.
type FileCode struct {
	SurveyID string
	Country  string
	FileType string
	Version  string
	Code     string
}

// String returns "<survey>.<code>".
func (fc FileCode) String() string {
	return fc.SurveyID + "." + fc.Code
}

// ParseFileCode reads a file code from a path or base name. The extension,
// if any, is ignored.
func ParseFileCode(name string) (FileCode, error) {
	base := filepath.Base(name)
	parts := strings.Split(base, ".")
	if len(parts) < 2 || parts[0] == "" {
		return FileCode{}, fmt.Errorf("file name %q is not <survey>.<code>[.ext]", base)
	}

	code := parts[1]
	if len(code) < 4 {
		return FileCode{}, fmt.Errorf("file code %q in %q is too short", code, base)
	}

	return FileCode{
		SurveyID: parts[0],
		Country:  strings.ToLower(code[0:2]),
		FileType: strings.ToLower(code[2:4]),
		Version:  code[4:],
		Code:     code,
	}, nil
}
