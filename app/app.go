package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/mbolis/survey-flow/config"
	"github.com/mbolis/survey-flow/engine/flow"
	"github.com/mbolis/survey-flow/store"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config
	Store *store.SQL
	Flow  *flow.Controller
}
