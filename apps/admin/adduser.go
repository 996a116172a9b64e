package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// addUser creates the user, or activates and updates the one with the same username or email.
func (cli *commandLine) addUser(name, uname, email, pwd string, role user.Role) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name == "" {
		name = uname
	}

	usr, err := cli.findUser(ctx, uname, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		nu := user.NewUser{
			Name:            name,
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Role:            role,
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return err
		}
		_, err = cli.usrSvc.Create(ctx, nu)
		return err
	}

	usr.Name = name
	usr.Role = role
	usr.IsActive = true
	if err = checkPassword(usr, pwd); err != nil {
		return err
	}
	_, err = cli.usrSvc.SetPassword(ctx, usr, pwd)
	return err
}

func (cli *commandLine) findUser(ctx context.Context, uname, email string) (user.User, error) {
	for _, login := range []string{uname, email} {
		if login == "" {
			continue
		}
		usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, login)
		if err == nil || errors.Cause(err) != user.ErrNotFound {
			return usr, err
		}
	}
	return user.User{}, user.ErrNotFound
}

// checkPassword applies the password policy to an existing user's new password.
func checkPassword(usr user.User, pwd string) error {
	if tag := user.CheckPassword(pwd, usr.Name, usr.Username, usr.Email); tag != "" {
		msg := user.PasswordPolicyText(tag)
		return core.NewValidationError(errors.New(msg), core.FieldError{Field: "password", Error: msg})
	}
	return nil
}
