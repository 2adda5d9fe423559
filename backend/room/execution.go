package room

import "github.com/adwski/coderoom/backend/model"

// BeginExecution reserves the room's execution slot for connID and tells
// everyone, sender included, that a run started. It returns the user name to
// attribute the result to.
func (r *Room) BeginExecution(connID, language string) (string, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return "", model.ErrNotJoined
	}
	if r.executing {
		return "", model.ErrExecutionBusy
	}
	r.executing = true
	r.broadcast(model.Event{
		Type: model.KindExecuteStarted,
		SRC:  connID,
		Payload: model.ExecuteStartedPayload{
			UserName: m.participant.UserName,
			Language: language,
		},
	}, "")
	return m.participant.UserName, nil
}

// FinishExecution releases the execution slot and fans the result out to
// every current participant. The originator may have left in the meantime.
func (r *Room) FinishExecution(connID, userName string, result model.ExecResult) {
	r.mx.Lock()
	defer r.mx.Unlock()

	r.executing = false
	r.broadcast(model.Event{
		Type: model.KindExecuteCode,
		SRC:  connID,
		Payload: model.ExecuteCodePayload{
			UserName: userName,
			Result:   result,
		},
	}, "")
}
