package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/library"
	"github.com/trezcool/shule/core/rbac"
	"github.com/trezcool/shule/core/user"
)

const errInvalidStatus = "invalid status"

type libraryApi struct {
	svc      *library.Service
	usrSvc   *user.Service
	validate *validator.Validate
}

func registerLibraryAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := libraryApi{
		svc:      deps.LibrarySvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}
	canManage := permissionMiddleware(api.usrSvc, rbac.BorrowManage)

	lg := g.Group("/library", authed...)

	ig := lg.Group("/items")
	ig.POST("", api.createItem, permissionMiddleware(api.usrSvc, rbac.LibraryItemCreate))
	ig.GET("/:id", api.retrieveItem)
	ig.GET("/:id/availability", api.availability)
	ig.POST("/:id/requests", api.requestBook, permissionMiddleware(api.usrSvc, rbac.BorrowRequest))

	rg := lg.Group("/requests")
	rg.GET("", api.queryRequests)
	rg.GET("/:id", api.retrieveRequest)
	rg.POST("/:id/approve", api.approve, canManage)
	rg.POST("/:id/reject", api.reject, canManage)
	rg.POST("/:id/return", api.markReturned, canManage)
}

// RequestQuery filters borrowing requests: `?status=approved&overdue=true&ordering=due_date`.
type RequestQuery struct {
	UserID     string `query:"user_id"`
	ItemID     string `query:"library_item_id"`
	Status     string `query:"status"`
	CheckedOut bool   `query:"checked_out"`
	Returned   bool   `query:"returned"`
	Overdue    bool   `query:"overdue"`
}

func (rq RequestQuery) filter() (library.QueryFilter, error) {
	filter := library.QueryFilter{
		UserID:     core.CleanString(rq.UserID),
		ItemID:     core.CleanString(rq.ItemID),
		CheckedOut: rq.CheckedOut,
		Returned:   rq.Returned,
		Overdue:    rq.Overdue,
	}
	if status := library.Status(core.CleanString(rq.Status, true /* lower */)); status != "" {
		if !status.Valid() {
			return library.QueryFilter{}, core.NewValidationError(nil, core.FieldError{Field: "status", Error: errInvalidStatus})
		}
		filter.Status = status
	}
	return filter, nil
}

// Handlers

func (api *libraryApi) createItem(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data library.NewItem
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewItem")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	item, err := api.svc.CreateItem(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating library item")
	}
	return ctx.JSON(http.StatusCreated, item)
}

func (api *libraryApi) retrieveItem(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	item, err := api.svc.GetItem(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting library item")
	}
	return ctx.JSON(http.StatusOK, item)
}

func (api *libraryApi) availability(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	avail, err := api.svc.Availability(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting availability")
	}
	return ctx.JSON(http.StatusOK, avail)
}

func (api *libraryApi) requestBook(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	req, err := api.svc.RequestBook(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "requesting book")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *libraryApi) queryRequests(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var query RequestQuery
	if err = ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to RequestQuery")
	}
	filter, err := query.filter()
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	filter.Ordering = ordering.Orderings

	reqs, err := api.svc.QueryRequests(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "querying borrowing requests")
	}
	if reqs == nil {
		reqs = []library.Request{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *libraryApi) retrieveRequest(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	req, err := api.svc.GetRequest(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting borrowing request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *libraryApi) approve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	req, err := api.svc.Approve(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "approving borrowing request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *libraryApi) reject(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data library.Rejection
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Rejection")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	req, err := api.svc.Reject(ctx.Request().Context(), usr, ctx.Param("id"), data.Notes)
	if err != nil {
		return errors.Wrap(err, "rejecting borrowing request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *libraryApi) markReturned(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	req, err := api.svc.MarkReturned(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "marking book returned")
	}
	return ctx.JSON(http.StatusOK, req)
}
