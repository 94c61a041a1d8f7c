package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	flowSessionName         = "reviewfunnel_flow"
	flowSessionKeyPrefix    = "review:"
	flowSessionMaxAgeSecond = 24 * 60 * 60
	logEventLoadSession     = "load_flow_session"
	logEventSaveSession     = "save_flow_session"
)

// NewFlowSessionStore builds the cookie store that remembers the open review per company.
func NewFlowSessionStore(secret string) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   flowSessionMaxAgeSecond,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

type flowSessions struct {
	store  sessions.Store
	logger *zap.Logger
}

func (flowSession flowSessions) resumeReviewID(request *http.Request, companyID string) string {
	if flowSession.store == nil {
		return ""
	}
	sessionInstance, sessionErr := flowSession.store.Get(request, flowSessionName)
	if sessionErr != nil {
		flowSession.logger.Debug(logEventLoadSession, zap.Error(sessionErr))
		return ""
	}
	reviewID, _ := sessionInstance.Values[flowSessionKeyPrefix+companyID].(string)
	return strings.TrimSpace(reviewID)
}

func (flowSession flowSessions) remember(writer http.ResponseWriter, request *http.Request, companyID string, reviewID string) {
	flowSession.update(writer, request, func(sessionInstance *sessions.Session) {
		sessionInstance.Values[flowSessionKeyPrefix+companyID] = reviewID
	})
}

func (flowSession flowSessions) forget(writer http.ResponseWriter, request *http.Request, companyID string) {
	flowSession.update(writer, request, func(sessionInstance *sessions.Session) {
		delete(sessionInstance.Values, flowSessionKeyPrefix+companyID)
	})
}

func (flowSession flowSessions) update(writer http.ResponseWriter, request *http.Request, mutate func(*sessions.Session)) {
	if flowSession.store == nil {
		return
	}
	sessionInstance, _ := flowSession.store.Get(request, flowSessionName)
	if sessionInstance == nil {
		return
	}
	mutate(sessionInstance)
	if saveErr := sessionInstance.Save(request, writer); saveErr != nil {
		flowSession.logger.Warn(logEventSaveSession, zap.Error(saveErr))
	}
}
