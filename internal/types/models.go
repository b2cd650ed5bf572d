package types

import (
	"strconv"
	"strings"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Column names of the record store. Header returns them in declared order.
const (
	ColTimestamp             = "timestamp"
	ColFilename              = "filename"
	ColCallDate              = "call_date"
	ColCallTime              = "call_time"
	ColCallDatetime          = "call_datetime"
	ColPhoneNumber           = "phone_number"
	ColCallStatus            = "call_status"
	ColAgentName             = "agent_name"
	ColEstimatedDuration     = "estimated_duration_seconds"
	ColFileSize              = "file_size"
	ColDuration              = "duration"
	ColTranscription         = "transcription"
	ColDiarizedTranscription = "diarized_transcription"
	ColSpeakerCount          = "speaker_count"
	ColSummary               = "summary"
	ColIntent                = "intent"
	ColSubIntent             = "sub_intent"
	ColPrimaryDisposition    = "primary_disposition"
	ColSecondaryDisposition  = "secondary_disposition"
	ColStatus                = "status"
	ColProcessingTime        = "processing_time"
	ColErrorMessage          = "error_message"
)

var header = []string{
	ColTimestamp, ColFilename,
	ColCallDate, ColCallTime, ColCallDatetime, ColPhoneNumber, ColCallStatus, ColAgentName, ColEstimatedDuration,
	ColFileSize, ColDuration,
	ColTranscription, ColDiarizedTranscription, ColSpeakerCount,
	ColSummary, ColIntent, ColSubIntent,
	ColStatus, ColProcessingTime, ColErrorMessage,
	ColPrimaryDisposition, ColSecondaryDisposition,
}

// Header returns a copy of the store's column order.
func Header() []string {
	out := make([]string, len(header))
	copy(out, header)
	return out
}

// ColumnDefaults holds the value written into a column that an older store
// file does not have yet.
var ColumnDefaults = map[string]string{
	ColSpeakerCount: "1",
}

// Metadata is what the filename tells us about a call. Empty strings and a
// nil duration mean the filename did not match.
type Metadata struct {
	CallDate                 string `json:"call_date"`
	CallTime                 string `json:"call_time"`
	CallDatetime             string `json:"call_datetime"`
	PhoneNumber              string `json:"phone_number"`
	CallStatus               string `json:"call_status"`
	AgentName                string `json:"agent_name"`
	EstimatedDurationSeconds *int   `json:"estimated_duration_seconds"`
}

// Empty reports whether no field was extracted.
func (m Metadata) Empty() bool {
	return m == Metadata{}
}

type CallRecord struct {
	Timestamp string `json:"timestamp"`
	Filename  string `json:"filename"`
	Metadata

	FileSize int64   `json:"file_size"`
	Duration float64 `json:"duration"`

	Transcription         string `json:"transcription"`
	DiarizedTranscription string `json:"diarized_transcription"`
	SpeakerCount          int    `json:"speaker_count"`

	Summary   string `json:"summary"`
	Intent    string `json:"intent"`
	SubIntent string `json:"sub_intent"`

	PrimaryDisposition   string `json:"primary_disposition"`
	SecondaryDisposition string `json:"secondary_disposition"`

	Status         Status  `json:"status"`
	ProcessingTime float64 `json:"processing_time"`
	ErrorMessage   string  `json:"error_message"`
}

// Fields flattens the record into column -> cell text.
func (r CallRecord) Fields() map[string]string {
	est := ""
	if r.EstimatedDurationSeconds != nil {
		est = strconv.Itoa(*r.EstimatedDurationSeconds)
	}
	speakers := ""
	if r.SpeakerCount > 0 {
		speakers = strconv.Itoa(r.SpeakerCount)
	}
	return map[string]string{
		ColTimestamp:             r.Timestamp,
		ColFilename:              r.Filename,
		ColCallDate:              r.CallDate,
		ColCallTime:              r.CallTime,
		ColCallDatetime:          r.CallDatetime,
		ColPhoneNumber:           r.PhoneNumber,
		ColCallStatus:            r.CallStatus,
		ColAgentName:             r.AgentName,
		ColEstimatedDuration:     est,
		ColFileSize:              strconv.FormatInt(r.FileSize, 10),
		ColDuration:              strconv.FormatFloat(r.Duration, 'f', -1, 64),
		ColTranscription:         r.Transcription,
		ColDiarizedTranscription: r.DiarizedTranscription,
		ColSpeakerCount:          speakers,
		ColSummary:               r.Summary,
		ColIntent:                r.Intent,
		ColSubIntent:             r.SubIntent,
		ColPrimaryDisposition:    r.PrimaryDisposition,
		ColSecondaryDisposition:  r.SecondaryDisposition,
		ColStatus:                string(r.Status),
		ColProcessingTime:        strconv.FormatFloat(r.ProcessingTime, 'f', 2, 64),
		ColErrorMessage:          r.ErrorMessage,
	}
}

// Row renders the record in Header order.
func (r CallRecord) Row() []string {
	f := r.Fields()
	row := make([]string, len(header))
	for i, col := range header {
		row[i] = f[col]
	}
	return row
}

// RecordFromFields is the inverse of Fields. Unparseable numbers become zero.
func RecordFromFields(f map[string]string) CallRecord {
	r := CallRecord{
		Timestamp: f[ColTimestamp],
		Filename:  f[ColFilename],
		Metadata: Metadata{
			CallDate:     f[ColCallDate],
			CallTime:     f[ColCallTime],
			CallDatetime: f[ColCallDatetime],
			PhoneNumber:  f[ColPhoneNumber],
			CallStatus:   f[ColCallStatus],
			AgentName:    f[ColAgentName],
		},
		Transcription:         f[ColTranscription],
		DiarizedTranscription: f[ColDiarizedTranscription],
		Summary:               f[ColSummary],
		Intent:                f[ColIntent],
		SubIntent:             f[ColSubIntent],
		PrimaryDisposition:    f[ColPrimaryDisposition],
		SecondaryDisposition:  f[ColSecondaryDisposition],
		Status:                Status(f[ColStatus]),
		ErrorMessage:          f[ColErrorMessage],
	}
	if v := strings.TrimSpace(f[ColEstimatedDuration]); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			est := int(n)
			r.EstimatedDurationSeconds = &est
		}
	}
	r.FileSize, _ = strconv.ParseInt(strings.TrimSpace(f[ColFileSize]), 10, 64)
	r.Duration, _ = strconv.ParseFloat(strings.TrimSpace(f[ColDuration]), 64)
	r.ProcessingTime, _ = strconv.ParseFloat(strings.TrimSpace(f[ColProcessingTime]), 64)
	if n, err := strconv.ParseFloat(strings.TrimSpace(f[ColSpeakerCount]), 64); err == nil {
		r.SpeakerCount = int(n)
	}
	return r
}

// RecordFromRow maps a row to a record using the column names in hdr.
func RecordFromRow(hdr, row []string) CallRecord {
	f := make(map[string]string, len(hdr))
	for i, col := range hdr {
		if i < len(row) {
			f[col] = row[i]
		}
	}
	return RecordFromFields(f)
}

// Apply overwrites the named columns of r. Unknown columns are ignored.
func (r CallRecord) Apply(updates map[string]string) CallRecord {
	f := r.Fields()
	for k, v := range updates {
		if _, ok := f[k]; ok {
			f[k] = v
		}
	}
	return RecordFromFields(f)
}
