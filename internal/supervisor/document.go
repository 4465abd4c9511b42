package supervisor

import "time"

// Document renders the snapshot in the dashboard health shape:
//
//	{status, subsystems: {name: {state, message, last_update, restart_count, last_error}}, timestamp}
//
// Timestamps are unix seconds and empty strings become null. Every value is
// plain JSON, so the map also converts to a structpb.Struct.
func (s Snapshot) Document() map[string]any {
	subsystems := make(map[string]any, len(s.Subsystems))
	for _, r := range s.Subsystems {
		subsystems[r.Name] = map[string]any{
			"state":         string(r.State),
			"message":       nullable(r.Message),
			"last_update":   unixSeconds(r.LastUpdate),
			"restart_count": r.RestartCount,
			"last_error":    nullable(r.LastError),
		}
	}
	return map[string]any{
		"status":     string(s.Status),
		"subsystems": subsystems,
		"timestamp":  unixSeconds(s.Timestamp),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
