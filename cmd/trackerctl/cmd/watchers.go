package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var watchersAvailable bool

var watchersCmd = &cobra.Command{
	Use:   "watchers",
	Short: "Manage the watchers of a work package",
}

var watchersListCmd = &cobra.Command{
	Use:   "list <work-package-id>",
	Short: "List watchers, or the users that could be added with --available",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchersList,
}

var watchersAddCmd = &cobra.Command{
	Use:   "add <work-package-id> <user-id>",
	Short: "Add a watcher",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatchersAdd,
}

var watchersRemoveCmd = &cobra.Command{
	Use:   "remove <work-package-id> <user-id>",
	Short: "Remove a watcher",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatchersRemove,
}

func init() {
	rootCmd.AddCommand(watchersCmd)
	watchersCmd.AddCommand(watchersListCmd, watchersAddCmd, watchersRemoveCmd)
	watchersListCmd.Flags().BoolVar(&watchersAvailable, "available", false, "list users that can still be added")
}

type user struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func runWatchersList(cmd *cobra.Command, args []string) error {
	suffix := "/watchers"
	if watchersAvailable {
		suffix = "/available_watchers"
	}
	req, err := CreateAuthenticatedRequest("GET", "/api/v3/work_packages/"+url.PathEscape(args[0])+suffix, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result struct {
		collection
		Embedded struct {
			Elements []user `json:"elements"`
		} `json:"_embedded"`
	}
	if err := doJSON(req, &result); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(result)
	}
	if len(result.Embedded.Elements) == 0 {
		fmt.Println("No users")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Login", "Name", "Email")
	for _, u := range result.Embedded.Elements {
		table.Append(strconv.FormatInt(u.ID, 10), u.Login, u.Name, u.Email)
	}
	table.Render()
	return nil
}

func runWatchersAdd(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[1])
	}
	body := map[string]interface{}{
		"user": map[string]string{"href": fmt.Sprintf("/api/v3/users/%d", userID)},
	}
	req, err := CreateAuthenticatedRequest("POST", "/api/v3/work_packages/"+url.PathEscape(args[0])+"/watchers", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var u user
	if err := doJSON(req, &u, http.StatusOK, http.StatusCreated); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(u)
	}
	fmt.Printf("%s is watching work package %s\n", u.Name, args[0])
	return nil
}

func runWatchersRemove(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/api/v3/work_packages/%s/watchers/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
	req, err := CreateAuthenticatedRequest(http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := doJSON(req, nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Printf("User %s no longer watches work package %s\n", args[1], args[0])
	return nil
}
