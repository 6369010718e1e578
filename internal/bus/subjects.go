package bus

import "strings"

// Subjects builds the hierarchical subject names used on the event bus.
type Subjects struct {
	Root string
}

func (s Subjects) TradeExecuted(venue string) string {
	return s.Root + "." + venue + ".tradeExecuted"
}

func (s Subjects) MessageCreated(venue string) string {
	return s.Root + "." + venue + ".messageCreated"
}

func (s Subjects) Reconnecting(venue string) string {
	return s.Root + "." + venue + ".reconnecting"
}

func (s Subjects) ModuleDead(venue string) string {
	return s.Root + ".module.dead." + venue
}

// ControlPattern matches every inbound operator command subject.
func (s Subjects) ControlPattern() string {
	return s.Root + ".control.*"
}

// ParseControl splits an operator command subject into action and venue.
// Subjects look like <root>.control.reconnect.<venue>.
func (s Subjects) ParseControl(subject string) (action, venue string, ok bool) {
	prefix := s.Root + ".control."
	if !strings.HasPrefix(subject, prefix) {
		return "", "", false
	}
	rest := strings.SplitN(strings.TrimPrefix(subject, prefix), ".", 2)
	if len(rest) != 2 || rest[0] == "" || rest[1] == "" {
		return "", "", false
	}
	return rest[0], rest[1], true
}
