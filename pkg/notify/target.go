package notify

// Platform identifies one of the delivery protocols. Values match the name of
// the adapter that serves the platform.
type Platform string

const (
	PlatformFCM     Platform = "fcm"     // mobile push
	PlatformWNS     Platform = "wns"     // desktop push
	PlatformAPNS    Platform = "apns"    // Apple push
	PlatformWebPush Platform = "webpush" // browser push
	PlatformMQTT    Platform = "mqtt"    // IoT pub/sub
)

// DeviceTarget is one deliverable endpoint: a device plus the opaque
// credential that routes to it (push token, subscription JSON, or topic name
// depending on the platform). It is owned and mutated exclusively by the
// external device registry; the core treats it as read-only input.
type DeviceTarget struct {
	DeviceID   string   `json:"device_id"`
	Platform   Platform `json:"platform"`
	Credential string   `json:"credential"`

	// KnownInvalid is set once a protocol has reported the credential
	// permanently dead. The resolver filters these out.
	KnownInvalid bool `json:"known_invalid,omitempty"`
}

// CriteriaKind selects which targeting variant a Criteria carries.
type CriteriaKind string

const (
	CriteriaDeviceIDs    CriteriaKind = "device_ids"
	CriteriaSite         CriteriaKind = "site"
	CriteriaDeviceType   CriteriaKind = "device_type"
	CriteriaDeviceStatus CriteriaKind = "device_status"
	CriteriaAll          CriteriaKind = "all"
)

// Criteria describes which devices a job targets. The business decision of
// who to notify is the caller's; this is only the shape of the answer.
type Criteria struct {
	Kind CriteriaKind `json:"kind"`

	DeviceIDs    []string `json:"device_ids,omitempty"`
	SiteID       string   `json:"site_id,omitempty"`
	DeviceType   string   `json:"device_type,omitempty"`
	DeviceStatus string   `json:"device_status,omitempty"`
}

// Page is one resolver result: a bounded slice of targets plus the cursor for
// the next page. An empty NextCursor signals exhaustion.
type Page struct {
	Targets    []DeviceTarget
	NextCursor string
}
