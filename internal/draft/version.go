package draft

// Version constants for the record format.
const (
	// RecordVersion is the only record schema version this build reads or writes.
	RecordVersion = 1

	// FormVersion is stamped into Metadata.FormVersion.
	FormVersion = "1.0.0"

	// ClientVersion identifies this module in Metadata.ClientInfo.
	ClientVersion = "0.1.0"
)
