package policy

// Directive names understood by the policy editor. Any other key is
// accepted as a custom directive.
const (
	BaseURI                 = "base-uri"
	BlockAllMixedContent    = "block-all-mixed-content"
	ConnectSrc              = "connect-src"
	DefaultSrc              = "default-src"
	FontSrc                 = "font-src"
	FormAction              = "form-action"
	FrameAncestors          = "frame-ancestors"
	FrameSrc                = "frame-src"
	ImgSrc                  = "img-src"
	ManifestSrc             = "manifest-src"
	MediaSrc                = "media-src"
	ObjectSrc               = "object-src"
	PluginTypes             = "plugin-types"
	PrefetchSrc             = "prefetch-src"
	ReportTo                = "report-to"
	ReportURI               = "report-uri"
	RequireSRIFor           = "require-sri-for"
	Sandbox                 = "sandbox"
	ScriptSrc               = "script-src"
	StyleSrc                = "style-src"
	UpgradeInsecureRequests = "upgrade-insecure-requests"
	WebRTCSrc               = "webrtc-src"
	WorkerSrc               = "worker-src"
)

// Source keywords emitted from directive flags.
const (
	SourceSelf         = "'self'"
	SourceUnsafeInline = "'unsafe-inline'"
	SourceData         = "data:"
	SourceReportSample = "'report-sample'"
	SourceNone         = "'none'"
)

// SampleNonce stands in for the request nonce wherever a policy is shown
// rather than served.
const SampleNonce = "sampleonly"

// Response header names.
const (
	HeaderCSP                = "Content-Security-Policy"
	HeaderCSPReportOnly      = "Content-Security-Policy-Report-Only"
	HeaderReportTo           = "Report-To"
	HeaderReportingEndpoints = "Reporting-Endpoints"
	HeaderNEL                = "NEL"
)

// Reporting API group names.
const (
	ReportingGroup = "csp-endpoint"
	NELGroup       = "network-error-logging"
)

// DefaultMaxAge is the lifetime in seconds of Report-To and NEL groups.
const DefaultMaxAge = 3600

// DeliveryMethod selects how a policy reaches the browser.
type DeliveryMethod string

const (
	DeliveryHeader  DeliveryMethod = "Header"
	DeliveryMetaTag DeliveryMethod = "MetaTag"
)

// Valid reports whether m is a known delivery method.
func (m DeliveryMethod) Valid() bool {
	return m == DeliveryHeader || m == DeliveryMetaTag
}

// CSPLevel is the minimum Content Security Policy level a policy targets.
// Level 3 drops the deprecated report-uri directive.
type CSPLevel int

const (
	Level1 CSPLevel = 1
	Level2 CSPLevel = 2
	Level3 CSPLevel = 3
)

var knownKeys = []string{
	BaseURI, BlockAllMixedContent, ConnectSrc, DefaultSrc, FontSrc,
	FormAction, FrameAncestors, FrameSrc, ImgSrc, ManifestSrc, MediaSrc,
	ObjectSrc, PluginTypes, PrefetchSrc, RequireSRIFor, Sandbox, ScriptSrc,
	StyleSrc, UpgradeInsecureRequests, WebRTCSrc, WorkerSrc,
}

// KnownKeys returns the predefined directive names in alphabetical order.
func KnownKeys() []string {
	out := make([]string, len(knownKeys))
	copy(out, knownKeys)
	return out
}

var valuelessKeys = map[string]bool{
	UpgradeInsecureRequests: true,
	BlockAllMixedContent:    true,
}

// IsValueless reports whether key is a directive that never carries a value.
func IsValueless(key string) bool {
	return valuelessKeys[key]
}
