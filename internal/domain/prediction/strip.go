package prediction

import (
	"strings"
)

// Attachments are stored by the attachment service and referenced from a
// record by id. Anything in a payload that looks like file content is
// dropped before the record is written.

// binaryKeys name fields that only ever hold file content.
var binaryKeys = map[string]bool{
	"base64":      true,
	"dataUrl":     true,
	"dataURL":     true,
	"fileData":    true,
	"fileContent": true,
	"blob":        true,
}

// minBase64Run is the length from which a bare base64 string is treated as
// file content.
const minBase64Run = 4096

// referenceKeys are the entries of personalInfo.medicalFiles kept on write.
var referenceKeys = []string{"id", "name"}

// stripBinary returns a copy of payload without binary-like values, and the
// dotted paths of what it removed.
func stripBinary(payload map[string]any) (map[string]any, []string) {
	var removed []string
	out := stripMap(payload, "", &removed)
	if info, ok := out["personalInfo"].(map[string]any); ok {
		if files, ok := info["medicalFiles"].([]any); ok {
			info["medicalFiles"] = fileReferences(files, &removed)
		}
	}
	return out, removed
}

func stripMap(m map[string]any, prefix string, removed *[]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if binaryKeys[k] || isBinary(v) {
			*removed = append(*removed, path)
			continue
		}
		out[k] = stripValue(v, path, removed)
	}
	return out
}

func stripValue(v any, path string, removed *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		return stripMap(t, path, removed)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, 0, len(t))
		for _, e := range t {
			if isBinary(e) {
				*removed = append(*removed, path+"[]")
				continue
			}
			out = append(out, stripValue(e, path+"[]", removed))
		}
		return out
	default:
		return v
	}
}

func isBinary(v any) bool {
	switch t := v.(type) {
	case []byte:
		return true
	case string:
		if strings.HasPrefix(t, "data:") && strings.Contains(t, ";base64,") {
			return true
		}
		return len(t) >= minBase64Run && isBase64(t)
	}
	return false
}

func isBase64(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// fileReferences reduces each medical file entry to its reference keys.
func fileReferences(files []any, removed *[]string) []any {
	out := make([]any, 0, len(files))
	for _, f := range files {
		entry, ok := f.(map[string]any)
		if !ok {
			if !isBinary(f) {
				out = append(out, f)
			}
			continue
		}
		ref := make(map[string]any, len(referenceKeys))
		for _, k := range referenceKeys {
			if v, ok := entry[k]; ok {
				ref[k] = v
			}
		}
		for k := range entry {
			if _, kept := ref[k]; !kept {
				*removed = append(*removed, "personalInfo.medicalFiles[]."+k)
			}
		}
		if _, ok := ref["id"]; ok {
			out = append(out, ref)
		}
	}
	return out
}
