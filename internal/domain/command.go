package domain

type CommandKind string

const (
	CommandSetAlert       CommandKind = "set-alert"
	CommandClearAlert     CommandKind = "clear-alert"
	CommandNavigate       CommandKind = "navigate"
	CommandFormVisibility CommandKind = "form-visibility"
)

// ActionAckOverspeed is the acknowledgement action attached to overspeed alerts.
// Only notifications carrying it are cleared automatically.
const ActionAckOverspeed = "ok-overspeed"

type NotificationAction struct {
	Name    string `json:"name"`
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

type Notification struct {
	Title   string               `json:"title"`
	Message string               `json:"message,omitempty"`
	Color   string               `json:"color,omitempty"`
	Urgent  bool                 `json:"urgent"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

func (n *Notification) HasAction(action string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Actions {
		if a.Action == action {
			return true
		}
	}
	return false
}

// Command is a side effect requested by the pipeline. Generation is the session
// token current when the command was issued; commands from an older generation
// are discarded before they reach a collaborator.
type Command struct {
	Kind       CommandKind   `json:"kind"`
	DeviceID   string        `json:"device_id"`
	Generation uint64        `json:"generation"`
	Alert      *Notification `json:"alert,omitempty"`
	FormID     string        `json:"form_id,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
	Visible    bool          `json:"visible,omitempty"`
}
