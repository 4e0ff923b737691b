package draft

import "strings"

// KeyPrefix namespaces autosave records inside the encrypted store.
const KeyPrefix = "autosave_"

// KeySeparator joins case id and form type. Case ids may not contain it, so
// the first separator after KeyPrefix always ends the case id.
const KeySeparator = "_"

// StorageKey returns the encrypted-store key for a draft.
func StorageKey(k Key) string {
	return KeyPrefix + k.CaseID + KeySeparator + k.FormType
}

// CasePrefix returns the key prefix shared by every draft of a case.
func CasePrefix(caseID string) string {
	return KeyPrefix + caseID + KeySeparator
}

// IsStorageKey reports whether an encrypted-store key holds a draft.
func IsStorageKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}
