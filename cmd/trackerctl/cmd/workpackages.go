package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	wpProject  string
	wpStatus   string
	wpAssignee string
	wpGroupBy  string
	wpSortBy   string
	wpPage     int
	wpPageSize int
	wpSubject  string
	wpNotify   bool
)

// wpCmd represents the work packages command
var wpCmd = &cobra.Command{
	Use:     "wp",
	Aliases: []string{"work-packages"},
	Short:   "List and edit work packages",
}

var wpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work packages",
	Long: `List the work packages visible to the caller. Filters map onto the
query parameters of the API.

Example:
  trackerctl wp list --status all --group-by type
  trackerctl wp list --project tracker --assignee me`,
	RunE: runWPList,
}

var wpShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a work package",
	Args:  cobra.ExactArgs(1),
	RunE:  runWPShow,
}

var wpRenameCmd = &cobra.Command{
	Use:   "rename <id>",
	Short: "Change the subject of a work package",
	Args:  cobra.ExactArgs(1),
	RunE:  runWPRename,
}

var wpDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete work packages, all or none",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWPDelete,
}

func init() {
	rootCmd.AddCommand(wpCmd)
	wpCmd.AddCommand(wpListCmd, wpShowCmd, wpRenameCmd, wpDeleteCmd)

	wpListCmd.Flags().StringVar(&wpProject, "project", "", "project id or identifier")
	wpListCmd.Flags().StringVar(&wpStatus, "status", "", "open, closed or all")
	wpListCmd.Flags().StringVar(&wpAssignee, "assignee", "", "user id or me")
	wpListCmd.Flags().StringVar(&wpGroupBy, "group-by", "", "column to group by")
	wpListCmd.Flags().StringVar(&wpSortBy, "sort-by", "", "sort criteria, e.g. priority:desc,id")
	wpListCmd.Flags().IntVar(&wpPage, "page", 0, "page number")
	wpListCmd.Flags().IntVar(&wpPageSize, "page-size", 0, "page size")

	wpRenameCmd.Flags().StringVar(&wpSubject, "subject", "", "new subject")
	wpRenameCmd.Flags().BoolVar(&wpNotify, "notify", true, "notify watchers and involved users")
	wpRenameCmd.MarkFlagRequired("subject")
}

type halLink struct {
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
}

type workPackage struct {
	ID            int64              `json:"id"`
	Subject       string             `json:"subject"`
	LockVersion   int                `json:"lockVersion"`
	EstimatedTime *string            `json:"estimatedTime"`
	DueDate       *string            `json:"dueDate"`
	UpdatedAt     string             `json:"updatedAt"`
	Links         map[string]halLink `json:"_links"`
}

func (wp workPackage) title(link string) string {
	if l, ok := wp.Links[link]; ok {
		return l.Title
	}
	return ""
}

type collection struct {
	Total     int                      `json:"total"`
	Count     int                      `json:"count"`
	PageSize  int                      `json:"pageSize"`
	Offset    int                      `json:"offset"`
	Groups    []map[string]interface{} `json:"groups,omitempty"`
	TotalSums map[string]interface{}   `json:"totalSums,omitempty"`
}

type workPackageCollection struct {
	collection
	Embedded struct {
		Elements []workPackage `json:"elements"`
	} `json:"_embedded"`
}

func runWPList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("status", wpStatus)
	set("assignee", wpAssignee)
	set("groupBy", wpGroupBy)
	set("sortBy", wpSortBy)
	if wpPage > 0 {
		q.Set("offset", strconv.Itoa(wpPage))
	}
	if wpPageSize > 0 {
		q.Set("pageSize", strconv.Itoa(wpPageSize))
	}

	path := "/api/v3/work_packages"
	if wpProject != "" {
		path = "/api/v3/projects/" + url.PathEscape(wpProject) + "/work_packages"
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := CreateAuthenticatedRequest("GET", path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result workPackageCollection
	if err := doJSON(req, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}
	if len(result.Embedded.Elements) == 0 {
		fmt.Println("No work packages found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Type", "Status", "Priority", "Subject", "Assignee", "Due")
	for _, wp := range result.Embedded.Elements {
		due := ""
		if wp.DueDate != nil {
			due = *wp.DueDate
		}
		table.Append(
			strconv.FormatInt(wp.ID, 10),
			wp.title("type"),
			wp.title("status"),
			wp.title("priority"),
			wp.Subject,
			wp.title("assignee"),
			due,
		)
	}
	table.Render()

	fmt.Printf("\nPage %d, %d of %d work packages\n", result.Offset, result.Count, result.Total)
	for _, g := range result.Groups {
		fmt.Printf("  %v: %v\n", g["value"], g["count"])
	}
	if est, ok := result.TotalSums["estimatedTime"]; ok {
		fmt.Printf("Estimated time: %v\n", est)
	}
	return nil
}

func fetchWorkPackage(id string) (*workPackage, error) {
	req, err := CreateAuthenticatedRequest("GET", "/api/v3/work_packages/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var wp workPackage
	if err := doJSON(req, &wp); err != nil {
		return nil, err
	}
	return &wp, nil
}

func runWPShow(cmd *cobra.Command, args []string) error {
	wp, err := fetchWorkPackage(args[0])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(wp)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"ID", strconv.FormatInt(wp.ID, 10)})
	table.Append([]string{"Subject", wp.Subject})
	for _, link := range []string{"project", "type", "status", "priority", "author", "assignee", "responsible", "version", "category"} {
		if v := wp.title(link); v != "" {
			table.Append([]string{strings.ToUpper(link[:1]) + link[1:], v})
		}
	}
	if wp.EstimatedTime != nil {
		table.Append([]string{"Estimated time", *wp.EstimatedTime})
	}
	table.Append([]string{"Lock version", strconv.Itoa(wp.LockVersion)})
	table.Append([]string{"Updated", wp.UpdatedAt})
	table.Render()
	return nil
}

func runWPRename(cmd *cobra.Command, args []string) error {
	wp, err := fetchWorkPackage(args[0])
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/api/v3/work_packages/%d?notify=%t", wp.ID, wpNotify)
	req, err := CreateAuthenticatedRequest("PATCH", path, map[string]interface{}{
		"lockVersion": wp.LockVersion,
		"subject":     wpSubject,
	})
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var updated workPackage
	if err := doJSON(req, &updated); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(updated)
	}
	fmt.Printf("Work package %d renamed to %q (lock version %d)\n", updated.ID, updated.Subject, updated.LockVersion)
	return nil
}

func runWPDelete(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid work package id %q", a)
		}
		ids = append(ids, id)
	}
	req, err := CreateAuthenticatedRequest(http.MethodDelete, "/api/v3/work_packages/bulk", map[string]interface{}{"ids": ids})
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := doJSON(req, &result); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(result)
	}
	fmt.Printf("Deleted %d work packages\n", result.Deleted)
	return nil
}
