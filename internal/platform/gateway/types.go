package gateway

import "time"

// CareContext is one linkable clinical reference: a versioned typed
// reference string, a display label, and its health-information category.
type CareContext struct {
	Reference string
	Display   string
	HIType    string
}

// SubjectEntry identifies the local subject whose care contexts are being
// sent, as the counterpart should display them.
type SubjectEntry struct {
	Reference    string
	Display      string
	CareContexts []CareContext
}

// KeyMaterial is the public half of an envelope-encryption session as it
// travels on the wire.
type KeyMaterial struct {
	CryptoAlg string
	Curve     string
	PublicKey string
	Nonce     string
	Expiry    time.Time
}

type TokenGenerateTokenParams struct {
	RequestID   string
	HIPID       string
	Number      string
	Address     string
	Name        string
	Gender      string
	YearOfBirth int
}

type LinkCareContextParams struct {
	RequestID string
	HIPID     string
	LinkToken string
	Number    string
	Address   string
	Subject   SubjectEntry
}

type OnDiscoverParams struct {
	TransactionID  string
	ReplyRequestID string
	// Subject nil means no local match; the reply carries the protocol's
	// patient-not-found error instead.
	Subject   *SubjectEntry
	MatchedBy []string
}

type OnInitParams struct {
	TransactionID  string
	LinkReference  string
	ReplyRequestID string
	OTPExpiry      time.Time
}

type OnConfirmParams struct {
	RequestID      string
	ReplyRequestID string
	// Subject nil or with no care contexts produces a bare acknowledgement.
	Subject *SubjectEntry
}

type ConsentInitParams struct {
	RequestID         string
	HIUID             string
	PurposeText       string
	PurposeCode       string
	PatientAddress    string
	RequesterName     string
	RequesterUsername string
	RequesterSystem   string
	HITypes           []string
	AccessMode        string
	From              time.Time
	To                time.Time
	DataEraseAt       time.Time
	FrequencyUnit     string
	FrequencyValue    int
	FrequencyRepeats  int
}

type ConsentStatusParams struct {
	ConsentRequestID string
	HIUID            string
}

type ConsentFetchParams struct {
	ArtefactID string
	HIUID      string
}

type ConsentHipOnNotifyParams struct {
	ConsentID      string
	ReplyRequestID string
}

type ConsentHiuOnNotifyParams struct {
	ReplyRequestID string
	ArtefactIDs    []string
}

type DataFlowRequestParams struct {
	RequestID   string
	HIUID       string
	ArtefactID  string
	From        time.Time
	To          time.Time
	DataPushURL string
	KeyMaterial KeyMaterial
}

type DataFlowHipOnRequestParams struct {
	TransactionID  string
	ReplyRequestID string
}

// TransferEntry is one encrypted document in a data push.
type TransferEntry struct {
	Content              string
	Media                string
	Checksum             string
	CareContextReference string
}

type DataFlowTransferParams struct {
	PushURL       string
	TransactionID string
	Entries       []TransferEntry
	KeyMaterial   KeyMaterial
}

type DataFlowNotifyParams struct {
	ConsentID             string
	TransactionID         string
	NotifierType          string
	NotifierID            string
	Status                string
	HIPID                 string
	CareContextReferences []string
}

type PatientShareOnShareParams struct {
	ReplyRequestID string
	Status         string
	Address        string
	Context        string
	TokenNumber    string
	ExpirySeconds  int
}

type IdentityAuthenticationParams struct {
	RequesterID string
	Number      string
	Address     string
	Name        string
	Gender      string
	YearOfBirth int
}

// GroupByHIType turns a subject's care contexts into the wire shape shared
// by linking pushes, discovery replies, and confirm replies: one entry per
// health-information category, in first-seen order, each carrying the
// subject's reference and display, the member references, and the count.
func GroupByHIType(subject SubjectEntry) []map[string]any {
	var order []string
	grouped := make(map[string][]CareContext)
	for _, cc := range subject.CareContexts {
		if _, seen := grouped[cc.HIType]; !seen {
			order = append(order, cc.HIType)
		}
		grouped[cc.HIType] = append(grouped[cc.HIType], cc)
	}

	entries := make([]map[string]any, 0, len(order))
	for _, hiType := range order {
		members := make([]map[string]string, 0, len(grouped[hiType]))
		for _, cc := range grouped[hiType] {
			members = append(members, map[string]string{
				"referenceNumber": cc.Reference,
				"display":         cc.Display,
			})
		}
		entries = append(entries, map[string]any{
			"referenceNumber": subject.Reference,
			"display":         subject.Display,
			"careContexts":    members,
			"hiType":          hiType,
			"count":           len(grouped[hiType]),
		})
	}
	return entries
}
