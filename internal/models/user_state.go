package models

// UserState is the position of a chat user inside a multi-step dialog.
type UserState struct {
	UserID int64             `json:"user_id"`
	Step   string            `json:"step"`
	Data   map[string]string `json:"data,omitempty"`
}

func (s *UserState) Get(key string) string {
	if s == nil || s.Data == nil {
		return ""
	}
	return s.Data[key]
}

// With returns a copy of the state at step with key set to value.
func (s *UserState) With(step, key, value string) *UserState {
	next := &UserState{Step: step, Data: make(map[string]string)}
	if s != nil {
		next.UserID = s.UserID
		for k, v := range s.Data {
			next.Data[k] = v
		}
	}
	if key != "" {
		next.Data[key] = value
	}
	return next
}
