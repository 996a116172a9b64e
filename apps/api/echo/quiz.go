package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/rbac"
	"github.com/trezcool/shule/core/user"
)

type quizApi struct {
	svc      *quiz.Service
	usrSvc   *user.Service
	validate *validator.Validate
}

func registerQuizAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := quizApi{
		svc:      deps.QuizSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}
	canManage := permissionMiddleware(api.usrSvc, rbac.QuizCreate)
	canAttempt := permissionMiddleware(api.usrSvc, rbac.AttemptCreate)

	qg := g.Group("/quizzes", authed...)
	qg.POST("", api.create, canManage)
	qg.GET("/:id", api.retrieve)
	qg.PATCH("/:id/active", api.setActive, permissionMiddleware(api.usrSvc, rbac.QuizActivate))
	qg.GET("/:id/eligibility", api.eligibility, canAttempt)
	qg.POST("/:id/attempts", api.start, canAttempt)

	ag := g.Group("/attempts", authed...)
	ag.GET("/:id", api.result)
	ag.POST("/:id/answers", api.submitAnswer, canAttempt)
	ag.POST("/:id/sequence", api.validateSequence, canAttempt)
	ag.POST("/:id/complete", api.complete, canAttempt)
}

type activeRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// Handlers

func (api *quizApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data quiz.NewQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	qz, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, qz)
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	qz, err := api.svc.Get(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) setActive(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data activeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to activeRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	qz, err := api.svc.SetActive(ctx.Request().Context(), usr, ctx.Param("id"), *data.IsActive)
	if err != nil {
		return errors.Wrap(err, "setting quiz active")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) eligibility(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	elig, err := api.svc.CheckEligibility(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "checking eligibility")
	}
	return ctx.JSON(http.StatusOK, elig)
}

func (api *quizApi) start(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	res, err := api.svc.Start(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	if res.Resumed {
		return ctx.JSON(http.StatusOK, res)
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *quizApi) result(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	res, err := api.svc.Result(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting attempt result")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *quizApi) submitAnswer(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data quiz.SubmitAnswer
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitAnswer")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	res, err := api.svc.SubmitAnswer(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting answer")
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *quizApi) validateSequence(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data quiz.SequenceCheck
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SequenceCheck")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	res, err := api.svc.ValidateQuestionSequence(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "validating question sequence")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *quizApi) complete(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data quiz.Completion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Completion")
	}

	res, err := api.svc.Complete(ctx.Request().Context(), usr, ctx.Param("id"), data.Forced)
	if err != nil {
		return errors.Wrap(err, "completing attempt")
	}
	return ctx.JSON(http.StatusOK, res)
}
