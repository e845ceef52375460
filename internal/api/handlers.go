package api

import (
	"encoding/json"
	"net/http"

	"github.com/ephemchat/roomstate/internal/coordinator"
	"github.com/ephemchat/roomstate/internal/stats"
)

func (s *RoomStateApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// writeError stamps the environment onto the failure envelope and hides
// internal detail outside development mode.
func (s *RoomStateApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	errResp.Env = s.env
	if errResp.StatusCode >= http.StatusInternalServerError && !s.dev {
		errResp.Details = ""
	} else if errResp.StatusCode >= http.StatusInternalServerError && errResp.Err != nil {
		errResp.Details = errResp.Err.Error()
	}

	s.writeJson(w, errResp.StatusCode, errResp)
}

// roomActions is the single request surface: GET reports health, POST
// dispatches a tagged action.
func (s *RoomStateApp) roomActions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.health(w, r)
	case http.MethodPost:
		s.dispatchAction(w, r)
	default:
		s.writeError(w, NewMethodNotAllowedError())
	}
}

func (s *RoomStateApp) health(w http.ResponseWriter, r *http.Request) {
	h := s.store.HealthCheck(r.Context())

	s.writeJson(w, http.StatusOK, map[string]any{
		"status":   h.State,
		"redis":    h.Redis,
		"fallback": h.Fallback,
		"detail":   h.Detail,
		"env":      s.env,
	})
}

func (s *RoomStateApp) dispatchAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError("malformed request body"))
		return
	}

	s.stats.Incr(stats.MetricActionsServed)

	switch req.Action {
	case ActionJoinRoom:
		s.handleJoinRoom(w, r, req.Data)
	case ActionSendMessage:
		s.handleSendMessage(w, r, req.Data)
	case ActionGetMessages:
		s.handleGetMessages(w, r, req.Data)
	case ActionTyping:
		s.handleTyping(w, r, req.Data)
	case ActionGetTypingStatus:
		s.handleGetTypingStatus(w, r, req.Data)
	case ActionLeaveRoom:
		s.handleLeaveRoom(w, r, req.Data)
	case ActionKickUser:
		s.handleKickUser(w, r, req.Data)
	case ActionCreateRoom:
		s.handleCreateRoom(w, r, req.Data)
	case ActionPanicRoom:
		s.handlePanicRoom(w, r, req.Data)
	default:
		s.writeError(w, NewBadRequestError("unknown action"))
	}
}

// decodeData decodes an action variant and runs its field validation. It
// writes the failure response itself and reports whether the caller should
// continue.
func (s *RoomStateApp) decodeData(w http.ResponseWriter, raw json.RawMessage, dst interface{ Validate() error }) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		s.writeError(w, NewBadRequestError("malformed action data"))
		return false
	}

	if err := dst.Validate(); err != nil {
		s.writeError(w, NewBadRequestError(err.Error()))
		return false
	}

	return true
}

// gateCheck runs the external security gate's input validation over the
// free-text fields of an already decoded payload.
func (s *RoomStateApp) gateCheck(w http.ResponseWriter, action string, fields map[string]string) bool {
	if err := s.gate.ValidateInput(action, fields); err != nil {
		s.writeError(w, NewBadRequestError(err.Error()))
		return false
	}

	return true
}

func (s *RoomStateApp) handleJoinRoom(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data JoinRoomData
	if !s.decodeData(w, raw, &data) {
		return
	}
	if !s.gateCheck(w, ActionJoinRoom, map[string]string{
		"nickname": data.Nickname,
		"avatar":   data.Avatar,
	}) {
		return
	}

	result, err := s.coord.JoinRoom(r.Context(), coordinator.JoinRoomParams{
		RoomId:        data.RoomId,
		UserId:        s.resolveUserId(r, data.UserId),
		Nickname:      data.Nickname,
		Avatar:        data.Avatar,
		Password:      data.Password,
		ClaimsCreator: data.ClaimsCreator,
	})
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success":      true,
		"roomId":       result.RoomId,
		"isCreator":    result.IsCreator,
		"participants": result.Participants,
	})
}

func (s *RoomStateApp) handleSendMessage(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data SendMessageData
	if !s.decodeData(w, raw, &data) {
		return
	}
	if !s.gateCheck(w, ActionSendMessage, map[string]string{
		"message":  data.Message,
		"nickname": data.Nickname,
	}) {
		return
	}

	msg, err := s.coord.SendMessage(r.Context(), coordinator.SendMessageParams{
		RoomId:      data.RoomId,
		UserId:      s.resolveUserId(r, data.UserId),
		Text:        data.Message,
		Nickname:    data.Nickname,
		Avatar:      data.Avatar,
		IsInvisible: data.IsInvisible,
	})
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": true,
		"message": msg,
	})
}

func (s *RoomStateApp) handleGetMessages(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data GetMessagesData
	if !s.decodeData(w, raw, &data) {
		return
	}

	messages, err := s.coord.GetMessages(r.Context(), data.RoomId)
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": messages,
	})
}

func (s *RoomStateApp) handleTyping(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data TypingData
	if !s.decodeData(w, raw, &data) {
		return
	}
	if !s.gateCheck(w, ActionTyping, map[string]string{
		"nickname": data.Nickname,
	}) {
		return
	}

	typing, err := s.coord.Typing(r.Context(), coordinator.TypingParams{
		RoomId:   data.RoomId,
		UserId:   s.resolveUserId(r, data.UserId),
		Nickname: data.Nickname,
		IsTyping: data.IsTyping,
	})
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": true,
		"typing":  typing,
	})
}

func (s *RoomStateApp) handleGetTypingStatus(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data GetTypingStatusData
	if !s.decodeData(w, raw, &data) {
		return
	}

	typing, err := s.coord.GetTypingStatus(r.Context(), data.RoomId, s.resolveUserId(r, data.UserId))
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": true,
		"typing":  typing,
	})
}

func (s *RoomStateApp) handleLeaveRoom(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data LeaveRoomData
	if !s.decodeData(w, raw, &data) {
		return
	}

	if err := s.coord.LeaveRoom(r.Context(), data.RoomId, s.resolveUserId(r, data.UserId)); err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": true,
	})
}

func (s *RoomStateApp) handleKickUser(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data KickUserData
	if !s.decodeData(w, raw, &data) {
		return
	}

	participants, err := s.coord.KickUser(r.Context(), coordinator.KickUserParams{
		RoomId:       data.RoomId,
		TargetUserId: data.TargetUserId,
		KickedBy:     s.resolveUserId(r, data.KickedBy),
	})
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success":      true,
		"participants": participants,
	})
}

func (s *RoomStateApp) handleCreateRoom(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data CreateRoomData
	if !s.decodeData(w, raw, &data) {
		return
	}
	if !s.gateCheck(w, ActionCreateRoom, map[string]string{
		"name": data.Name,
	}) {
		return
	}

	meta, err := s.coord.CreateRoom(r.Context(), coordinator.CreateRoomParams{
		Name:            data.Name,
		Password:        data.Password,
		MaxParticipants: data.MaxParticipants,
		Private:         data.Private,
	})
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]any{
		"success": true,
		"room":    meta,
	})
}

func (s *RoomStateApp) handlePanicRoom(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data PanicRoomData
	if !s.decodeData(w, raw, &data) {
		return
	}

	if err := s.coord.PanicRoom(r.Context(), data.RoomId, s.resolveUserId(r, data.UserId)); err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": true,
	})
}
