package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"guardsched/internal/model"
)

// Kind names one of the fixed remote operations.
type Kind int

const (
	KindListUsers Kind = iota
	KindAddUser
	KindEditUser
	KindDeleteUser
	KindLogin
	KindListEvents
	KindAddEvent
	KindEditEvent
	KindDeleteEvent
)

var kindNames = map[Kind]string{
	KindListUsers:   "list_users",
	KindAddUser:     "add_user",
	KindEditUser:    "edit_user",
	KindDeleteUser:  "delete_user",
	KindLogin:       "login",
	KindListEvents:  "list_events",
	KindAddEvent:    "add_event",
	KindEditEvent:   "edit_event",
	KindDeleteEvent: "delete_event",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

type encoding int

const (
	encodeQuery encoding = iota
	encodeBody
)

type route struct {
	method   string
	encoding encoding
}

// routes decides method and parameter placement per operation. Every Kind
// must have an entry.
var routes = map[Kind]route{
	KindListUsers:   {http.MethodGet, encodeQuery},
	KindAddUser:     {http.MethodPost, encodeBody},
	KindEditUser:    {http.MethodPut, encodeBody},
	KindDeleteUser:  {http.MethodDelete, encodeQuery},
	KindLogin:       {http.MethodPost, encodeBody},
	KindListEvents:  {http.MethodGet, encodeQuery},
	KindAddEvent:    {http.MethodPost, encodeBody},
	KindEditEvent:   {http.MethodPut, encodeBody},
	KindDeleteEvent: {http.MethodDelete, encodeQuery},
}

// Operation is one request to the remote API. The set of implementations is
// closed: ListUsers, AddUser, EditUser, DeleteUser, Login, ListEvents,
// AddEvent, EditEvent and DeleteEvent.
type Operation interface {
	Kind() Kind
	path(loc *time.Location) string
	// params returns url.Values for query-encoded operations and a
	// JSON-marshalable value for body-encoded ones. nil means none.
	params() any
}

type ListUsers struct{}

func (ListUsers) Kind() Kind                 { return KindListUsers }
func (ListUsers) path(*time.Location) string { return "/api/users/" }
func (ListUsers) params() any                { return nil }

type AddUser struct {
	User model.User
}

func (AddUser) Kind() Kind                 { return KindAddUser }
func (AddUser) path(*time.Location) string { return "/api/users/" }
func (o AddUser) params() any {
	return newUserPayload{
		Username: o.User.Username,
		Email:    o.User.Email,
		Password: o.User.Password,
		IsAdmin:  o.User.IsAdmin,
	}
}

// EditUser updates user ID. An empty User.Password is left out of the body
// so the stored credential is kept.
type EditUser struct {
	ID   int
	User model.User
}

func (EditUser) Kind() Kind                   { return KindEditUser }
func (o EditUser) path(*time.Location) string { return "/api/users/" + strconv.Itoa(o.ID) }
func (o EditUser) params() any {
	return editUserPayload{
		Username: o.User.Username,
		Email:    o.User.Email,
		Password: o.User.Password,
		IsAdmin:  o.User.IsAdmin,
	}
}

type DeleteUser struct {
	ID int
}

func (DeleteUser) Kind() Kind                   { return KindDeleteUser }
func (o DeleteUser) path(*time.Location) string { return "/api/users/" + strconv.Itoa(o.ID) }
func (DeleteUser) params() any                  { return nil }

type Login struct {
	Email    string
	Password string
}

func (Login) Kind() Kind                 { return KindLogin }
func (Login) path(*time.Location) string { return "/api/users/login" }
func (o Login) params() any {
	return loginPayload{Email: o.Email, Password: o.Password}
}

// ListEvents fetches the events of the week starting at WeekOf. Callers
// pass the week anchor; the date is formatted in the client's location.
type ListEvents struct {
	WeekOf time.Time
}

func (ListEvents) Kind() Kind { return KindListEvents }
func (o ListEvents) path(loc *time.Location) string {
	return "/api/events/weekof/" + model.FormatDay(o.WeekOf.In(loc))
}
func (ListEvents) params() any { return nil }

type AddEvent struct {
	Input model.EventInput
}

func (AddEvent) Kind() Kind                 { return KindAddEvent }
func (AddEvent) path(*time.Location) string { return "/api/events/" }
func (o AddEvent) params() any              { return o.Input }

type EditEvent struct {
	ID    int
	Input model.EventInput
}

func (EditEvent) Kind() Kind                   { return KindEditEvent }
func (o EditEvent) path(*time.Location) string { return "/api/events/" + strconv.Itoa(o.ID) }
func (o EditEvent) params() any                { return o.Input }

type DeleteEvent struct {
	ID int
}

func (DeleteEvent) Kind() Kind                   { return KindDeleteEvent }
func (o DeleteEvent) path(*time.Location) string { return "/api/events/" + strconv.Itoa(o.ID) }
func (DeleteEvent) params() any                  { return nil }

type newUserPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

type editUserPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	IsAdmin  bool   `json:"isAdmin"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// queryString renders query parameters, "" when there are none.
func queryString(p any) string {
	v, ok := p.(url.Values)
	if !ok || len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
