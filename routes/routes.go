package routes

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"

	"github.com/mbolis/survey-flow/app"
	"github.com/mbolis/survey-flow/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Route("/surveys", func(r chi.Router) {
		r.Use(middlewares.Respondent(app.TokenSecret, app.Store))

		r.Get("/", ListSurveys(app))
		r.Get(`/{id:^\d+$}/question`, GetQuestion(app))
		r.Post(`/{id:^\d+$}/questions/{qid:^\d+$}`, SubmitAnswer(app))
		r.Post(`/{id:^\d+$}/back`, GoBack(app))
		r.Get(`/{id:^\d+$}/progress`, GetProgress(app))
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.TokenSecret))

		// CRUD survey
		r.Post("/surveys", CreateSurvey(app))
		r.Get("/surveys", AdminListSurveys(app))
		r.Get(`/surveys/{id:^\d+$}`, GetSurveyById(app))
		r.Put(`/surveys/{id:^\d+$}`, UpdateSurvey(app))
		r.Delete(`/surveys/{id:^\d+$}`, DeleteSurvey(app))

		r.Get(`/surveys/{id:^\d+$}/submissions`, GetSurveySubmissions(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
