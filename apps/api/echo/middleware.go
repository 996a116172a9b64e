package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/rbac"
	"github.com/trezcool/shule/core/user"
)

// ctxUserMiddleware loads the user the JWT was issued to into the echo.Context.
func ctxUserMiddleware(svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, err := getContextUser(ctx, svc); err != nil {
				return errors.Wrap(err, "getting context user")
			}
			return next(ctx)
		}
	}
}

// permissionMiddleware rejects requests from users granted none of perms.
func permissionMiddleware(svc *user.Service, perms ...rbac.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if err = rbac.CheckAny(usr, perms...); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}
