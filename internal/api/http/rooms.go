package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/room"
)

type createRoomRequest struct {
	RoomName string `json:"room_name" validate:"required,max=120"`
}

type roomCodeRequest struct {
	RoomID string `json:"room_id" validate:"required,len=6,alphanum"`
}

// POST /api/room/create  {"room_name": "..."}
func CreateRoomHandler(rooms *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if !decodeValid(w, r, &req) {
			return
		}
		rm, err := rooms.Create(r.Context(), auth.FromContext(r.Context()).ID, req.RoomName)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, rm)
	}
}

func ListTeacherRoomsHandler(rooms *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := rooms.ListByTeacher(r.Context(), auth.FromContext(r.Context()).ID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if list == nil {
			list = []classroom.Room{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"rooms": list})
	}
}

// GetRoomHandler shows the full room to its teacher and members, and only
// the name and status to anyone else holding the code.
func GetRoomHandler(rooms *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := rooms.Get(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		id := auth.FromContext(r.Context())
		if rm.TeacherID == id.ID || id.Role == "admin" || contains(rm.Students, id.ID) {
			respondJSON(w, http.StatusOK, rm)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"room_id":   rm.RoomID,
			"room_name": rm.RoomName,
			"is_active": rm.IsActive,
		})
	}
}

// POST /api/room/join  {"room_id": "AB12CD"}
func JoinRoomHandler(rooms *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roomCodeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		rm, err := rooms.Join(r.Context(), req.RoomID, auth.FromContext(r.Context()).ID)
		if errors.Is(err, classroom.ErrNotFound) {
			respondError(w, http.StatusNotFound, "room not found")
			return
		}
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"room_id": rm.RoomID, "room_name": rm.RoomName, "teacher_id": rm.TeacherID})
	}
}

func LeaveRoomHandler(rooms *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roomCodeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		if _, err := rooms.Leave(r.Context(), req.RoomID, auth.FromContext(r.Context()).ID); err != nil {
			respondStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RoomStudentsHandler expands member ids to user records for the owner.
func RoomStudentsHandler(rooms *room.Service, users classroom.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := rooms.Get(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if id := auth.FromContext(r.Context()); rm.TeacherID != id.ID && id.Role != "admin" {
			respondStoreError(w, room.ErrNotOwner)
			return
		}
		out := make([]classroom.User, 0, len(rm.Students))
		for _, sid := range rm.Students {
			u, err := users.GetUser(r.Context(), sid)
			if errors.Is(err, classroom.ErrNotFound) {
				continue
			}
			if err != nil {
				respondStoreError(w, err)
				return
			}
			out = append(out, u)
		}
		respondJSON(w, http.StatusOK, map[string]any{"room_id": rm.RoomID, "students": out})
	}
}

func SetRoomActiveHandler(rooms *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IsActive *bool `json:"is_active" validate:"required"`
		}
		if !decodeValid(w, r, &req) {
			return
		}
		rm, err := rooms.SetActive(r.Context(), chi.URLParam(r, "code"), auth.FromContext(r.Context()).ID, *req.IsActive)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rm)
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
