package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"logingest/src/apperr"
	"logingest/src/core/authz"
	"logingest/src/core/user"
	"logingest/src/log"
	"logingest/src/storage/postgres/userctrl"
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user account",
	Long: `The create-user command creates one account. With --bootstrap it creates
the default admin and user accounts when they do not exist yet.`,
	RunE: runCreateUser,
}

func init() {
	createUserCmd.Flags().String("username", "", "username of the new account")
	createUserCmd.Flags().String("email", "", "email of the new account")
	createUserCmd.Flags().String("password", "", "password of the new account")
	createUserCmd.Flags().StringSlice("roles", []string{string(authz.RoleUser)}, "roles granted to the account")
	createUserCmd.Flags().Bool("superuser", false, "mark the account as superuser")
	createUserCmd.Flags().Bool("bootstrap", false, "create the default admin and user accounts")
	rootCmd.AddCommand(createUserCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := userctrl.Migrate(db); err != nil {
		return err
	}
	users, err := user.NewService(userctrl.NewRepository(db), viper.GetInt64("user.node_id"), log.WithName("user"))
	if err != nil {
		return err
	}

	var accounts []user.CreateParams
	if bootstrap, _ := cmd.Flags().GetBool("bootstrap"); bootstrap {
		accounts = defaultAccounts()
	} else {
		p := user.CreateParams{IsActive: true}
		p.Username, _ = cmd.Flags().GetString("username")
		p.Email, _ = cmd.Flags().GetString("email")
		p.Password, _ = cmd.Flags().GetString("password")
		p.Roles, _ = cmd.Flags().GetStringSlice("roles")
		p.IsSuperuser, _ = cmd.Flags().GetBool("superuser")
		accounts = append(accounts, p)
	}

	for _, p := range accounts {
		u, err := users.Create(ctx, p)
		if errors.Is(err, apperr.ErrInvalidUserData) && len(accounts) > 1 {
			log.Info("Skipping existing account", "username", p.Username, "reason", err.Error())
			continue
		}
		if err != nil {
			return err
		}
		log.Info("User created", "user_id", u.UserID, "username", u.Username, "roles", u.Roles)
	}
	return nil
}

// defaultAccounts are the development accounts created by --bootstrap.
// Their passwords come from ADMIN_PASSWORD and USER_PASSWORD.
func defaultAccounts() []user.CreateParams {
	viper.BindEnv("bootstrap.admin_password", "ADMIN_PASSWORD")
	viper.BindEnv("bootstrap.user_password", "USER_PASSWORD")
	viper.SetDefault("bootstrap.admin_password", "admin123")
	viper.SetDefault("bootstrap.user_password", "user123")

	return []user.CreateParams{
		{
			Username:    "admin",
			Email:       "admin@example.com",
			Password:    viper.GetString("bootstrap.admin_password"),
			Roles:       []string{string(authz.RoleAdmin)},
			IsActive:    true,
			IsSuperuser: true,
		},
		{
			Username: "user",
			Email:    "user@example.com",
			Password: viper.GetString("bootstrap.user_password"),
			Roles:    []string{string(authz.RoleUser)},
			IsActive: true,
		},
	}
}
