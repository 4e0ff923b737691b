// Package draft defines the persisted shape of an in-progress verification
// form and the helpers every other layer agrees on.
//
// A draft is keyed by (case ID, form type). At most one record exists per
// key; every write replaces the whole record.
//
// # Record Layout
//
// Records are stored as JSON with camelCase field names:
//
//	{
//	  "caseId": "case-1",
//	  "formType": "residence-positive",
//	  "formData": {...},
//	  "images": [{"id": "...", "dataUrl": "...", "latitude": 0, "longitude": 0, "timestamp": "..."}],
//	  "lastSaved": "2026-01-02T03:04:05Z",
//	  "version": 1,
//	  "isComplete": false,
//	  "metadata": {"clientInfo": "...", "capturedAt": "...", "formVersion": "1.0.0"}
//	}
//
// The storage key for a record is "autosave_{caseId}_{formType}" (see StorageKey).
//
// # Fingerprints
//
// Fingerprint hashes the canonical JSON of (formData, images). Payloads that
// differ only in object key order or Unicode normalization share a
// fingerprint, so the lifecycle controller treats them as unchanged and does
// not rewrite the stored draft.
package draft
