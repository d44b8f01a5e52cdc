package event

// Event types understood by the tracking core.
const (
	TypeMedia    = "com.mediatrack.eventType.media"
	TypeEdge     = "com.mediatrack.eventType.edge"
	TypeHub      = "com.mediatrack.eventType.hub"
	TypeIdentity = "com.mediatrack.eventType.generic.identity"
)

// Event sources understood by the tracking core.
const (
	SourceTrackerRequest  = "com.mediatrack.eventSource.createTracker"
	SourceTrackerResponse = "com.mediatrack.eventSource.trackerResponse"
	SourceTrackMedia      = "com.mediatrack.eventSource.trackMedia"
	SourceRequestReset    = "com.mediatrack.eventSource.requestReset"
	SourceSharedState     = "com.mediatrack.eventSource.sharedState"
	SourceEdgeSession     = "media-analytics:new-session"
	SourceEdgeError       = "com.mediatrack.eventSource.errorResponseContent"
	SourceEdgeRequest     = "com.mediatrack.eventSource.requestContent"
)

// Payload keys.
const (
	KeyTrackerID         = "trackerId"
	KeyTrackerConfig     = "config"
	KeyDownloadedContent = "downloadedContent"
	KeyStateOwner        = "stateowner"
	KeyRequestEventID    = "requestEventId"
	KeyPayload           = "payload"
	KeySessionID         = "sessionId"
	KeyErrors            = "errors"
	KeyStatus            = "status"
	KeyErrorType         = "type"
	KeyErrorTitle        = "title"

	KeyEventName      = "event.name"
	KeyEventParam     = "event.param"
	KeyEventMetadata  = "event.metadata"
	KeyEventTimestamp = "event.timestamp"
	KeyEventPlayhead  = "event.playhead"
	KeyEventQoE       = "event.qoedata"
)

// Kind is the closed set of inbound events the core reacts to.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateTracker
	KindTrack
	KindReset
	KindSharedState
	KindSessionResolved
	KindErrorResponse
)

// String returns the kind name used in logs, metrics and span names.
func (k Kind) String() string {
	switch k {
	case KindCreateTracker:
		return "create_tracker"
	case KindTrack:
		return "track"
	case KindReset:
		return "reset"
	case KindSharedState:
		return "shared_state"
	case KindSessionResolved:
		return "session_resolved"
	case KindErrorResponse:
		return "error_response"
	default:
		return "unknown"
	}
}

type route struct {
	eventType string
	source    string
}

var kinds = map[route]Kind{
	{TypeMedia, SourceTrackerRequest}:  KindCreateTracker,
	{TypeMedia, SourceTrackMedia}:      KindTrack,
	{TypeIdentity, SourceRequestReset}: KindReset,
	{TypeHub, SourceSharedState}:       KindSharedState,
	{TypeEdge, SourceEdgeSession}:      KindSessionResolved,
	{TypeEdge, SourceEdgeError}:        KindErrorResponse,
}

// Classify maps a (type, source) pair to its Kind.
// Unmapped pairs return KindUnknown.
func Classify(eventType, source string) Kind {
	return kinds[route{eventType, source}]
}
