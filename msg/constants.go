// Package msg defines the canonical message model of the Hearth hub: the
// closed enum sets, the Message entity, and the factory/validator that
// normalizes producer input into canonical form.
package msg

// Kind classifies what a message represents.
type Kind string

const (
	KindTask          Kind = "task"
	KindStatus        Kind = "status"
	KindAppointment   Kind = "appointment"
	KindShoppingList  Kind = "shoppinglist"
	KindInventoryList Kind = "inventorylist"
)

// Kinds lists all valid kinds in display order.
var Kinds = []Kind{KindTask, KindStatus, KindAppointment, KindShoppingList, KindInventoryList}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindStatus, KindAppointment, KindShoppingList, KindInventoryList:
		return true
	}
	return false
}

// Level is the severity ladder. Only the listed values are valid;
// arbitrary integers are rejected by the factory.
type Level int

const (
	LevelNone    Level = 0
	LevelDebug   Level = 10
	LevelInfo    Level = 20
	LevelNotice  Level = 30
	LevelWarning Level = 40
	LevelAlert   Level = 50
)

// Levels lists all valid levels in ascending order.
var Levels = []Level{LevelNone, LevelDebug, LevelInfo, LevelNotice, LevelWarning, LevelAlert}

// Valid reports whether l is a member of the closed level set.
func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelDebug, LevelInfo, LevelNotice, LevelWarning, LevelAlert:
		return true
	}
	return false
}

// State is the lifecycle state of a message.
type State string

const (
	StateOpen    State = "open"
	StateAcked   State = "acked"
	StateSnoozed State = "snoozed"
	StateClosed  State = "closed"
	StateDeleted State = "deleted"
	StateExpired State = "expired"
)

// States lists all valid lifecycle states.
var States = []State{StateOpen, StateAcked, StateSnoozed, StateClosed, StateDeleted, StateExpired}

// Valid reports whether s is a member of the closed state set.
func (s State) Valid() bool {
	switch s {
	case StateOpen, StateAcked, StateSnoozed, StateClosed, StateDeleted, StateExpired:
		return true
	}
	return false
}

// QuasiDeleted reports whether s hides the message from default views.
// Quasi-deleted entries still occupy the canonical list until hard-delete
// retention purges them.
func (s State) QuasiDeleted() bool {
	return s == StateClosed || s == StateDeleted || s == StateExpired
}

// OriginType classifies where a message came from.
type OriginType string

const (
	OriginManual     OriginType = "manual"
	OriginImport     OriginType = "import"
	OriginAutomation OriginType = "automation"
)

// OriginTypes lists all valid origin types.
var OriginTypes = []OriginType{OriginManual, OriginImport, OriginAutomation}

// Valid reports whether o is a member of the closed origin type set.
func (o OriginType) Valid() bool {
	switch o {
	case OriginManual, OriginImport, OriginAutomation:
		return true
	}
	return false
}

// ActionType is an operation a consumer may perform on a message.
type ActionType string

const (
	ActionAck    ActionType = "ack"
	ActionClose  ActionType = "close"
	ActionDelete ActionType = "delete"
	ActionSnooze ActionType = "snooze"
	ActionOpen   ActionType = "open"
	ActionLink   ActionType = "link"
	ActionCustom ActionType = "custom"
)

// ActionTypes lists all valid action types.
var ActionTypes = []ActionType{ActionAck, ActionClose, ActionDelete, ActionSnooze, ActionOpen, ActionLink, ActionCustom}

// Valid reports whether a is a member of the closed action type set.
func (a ActionType) Valid() bool {
	switch a {
	case ActionAck, ActionClose, ActionDelete, ActionSnooze, ActionOpen, ActionLink, ActionCustom:
		return true
	}
	return false
}

// AttachmentType classifies an attachment payload.
type AttachmentType string

const (
	AttachmentSSML  AttachmentType = "ssml"
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// AttachmentTypes lists all valid attachment types.
var AttachmentTypes = []AttachmentType{AttachmentSSML, AttachmentImage, AttachmentVideo, AttachmentFile}

// Valid reports whether a is a member of the closed attachment type set.
func (a AttachmentType) Valid() bool {
	switch a {
	case AttachmentSSML, AttachmentImage, AttachmentVideo, AttachmentFile:
		return true
	}
	return false
}

// Event is a notification event dispatched to consumer plugins.
type Event string

const (
	EventAdded     Event = "added"
	EventRecreated Event = "recreated"
	EventRecovered Event = "recovered"
	EventUpdated   Event = "updated"
	EventDue       Event = "due"
	EventDeleted   Event = "deleted"
	EventExpired   Event = "expired"
)

// Events lists all dispatchable notification events.
var Events = []Event{EventAdded, EventRecreated, EventRecovered, EventUpdated, EventDue, EventDeleted, EventExpired}

// Valid reports whether e is a member of the closed event set.
func (e Event) Valid() bool {
	switch e {
	case EventAdded, EventRecreated, EventRecovered, EventUpdated, EventDue, EventDeleted, EventExpired:
		return true
	}
	return false
}

// ConstantsDoc is the JSON-ready view of all closed enum sets,
// served by the admin.constants.get command.
type ConstantsDoc struct {
	Kinds           []Kind           `json:"kinds"`
	Levels          []Level          `json:"levels"`
	States          []State          `json:"states"`
	OriginTypes     []OriginType     `json:"originTypes"`
	ActionTypes     []ActionType     `json:"actionTypes"`
	AttachmentTypes []AttachmentType `json:"attachmentTypes"`
	Events          []Event          `json:"events"`
}

// Constants returns the full closed constants set.
func Constants() ConstantsDoc {
	return ConstantsDoc{
		Kinds:           Kinds,
		Levels:          Levels,
		States:          States,
		OriginTypes:     OriginTypes,
		ActionTypes:     ActionTypes,
		AttachmentTypes: AttachmentTypes,
		Events:          Events,
	}
}
