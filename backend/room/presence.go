package room

import "github.com/adwski/coderoom/backend/model"

// Palette holds cursor colors handed out to participants.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B739", "#52B788", "#E76F51", "#2A9D8F",
}

// MoveCursor records the sender's cursor and fans it out. It never touches
// the document.
func (r *Room) MoveCursor(connID string, cursor model.Cursor) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return model.ErrNotJoined
	}
	c := cursor
	if cursor.SelectionEnd != nil {
		sel := *cursor.SelectionEnd
		c.SelectionEnd = &sel
	}
	m.participant.Cursor = &c

	r.broadcast(model.Event{
		Type: model.KindCursorMove,
		SRC:  connID,
		Payload: model.CursorMovePayload{
			UserName:     m.participant.UserName,
			Color:        m.participant.Color,
			Position:     c.Position,
			SelectionEnd: c.SelectionEnd,
		},
	}, connID)
	return nil
}

// Presence lists participants ordered by join time.
func (r *Room) Presence() []model.Participant {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.presence()
}

func (r *Room) presence() []model.Participant {
	ps := make([]model.Participant, 0, len(r.members))
	for _, m := range r.members {
		p := m.participant
		if p.Cursor != nil {
			c := *p.Cursor
			p.Cursor = &c
		}
		ps = append(ps, p)
	}
	sortByJoinTime(ps)
	return ps
}

// pickColor returns the first palette color nobody in the room holds. When
// the palette is exhausted it cycles by join count. Must be called with mx held.
func (r *Room) pickColor() string {
	used := make(map[string]struct{}, len(r.members))
	for _, m := range r.members {
		used[m.participant.Color] = struct{}{}
	}
	for _, color := range Palette {
		if _, ok := used[color]; !ok {
			return color
		}
	}
	return Palette[r.joins%len(Palette)]
}
