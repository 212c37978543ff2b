package representer

import "fmt"

// Link is a HAL link
type Link struct {
	Href      string `json:"href"`
	Title     string `json:"title,omitempty"`
	Templated bool   `json:"templated,omitempty"`
	Method    string `json:"method,omitempty"`
}

// Links is the _links object of a resource
type Links map[string]*Link

// APIPrefix is the path prefix of every API resource
const APIPrefix = "/api/v3"

// Resource paths

func WorkPackagePath(id int64) string { return fmt.Sprintf("%s/work_packages/%d", APIPrefix, id) }
func ProjectPath(id int64) string { return fmt.Sprintf("%s/projects/%d", APIPrefix, id) }
func TypePath(id int64) string { return fmt.Sprintf("%s/types/%d", APIPrefix, id) }
func StatusPath(id int64) string { return fmt.Sprintf("%s/statuses/%d", APIPrefix, id) }
func PriorityPath(id int64) string { return fmt.Sprintf("%s/priorities/%d", APIPrefix, id) }
func UserPath(id int64) string { return fmt.Sprintf("%s/users/%d", APIPrefix, id) }
func VersionPath(id int64) string { return fmt.Sprintf("%s/versions/%d", APIPrefix, id) }
func CategoryPath(id int64) string { return fmt.Sprintf("%s/categories/%d", APIPrefix, id) }

// SchemaPath identifies the schema shared by work packages of a project and type
func SchemaPath(projectID, typeID int64) string {
	return fmt.Sprintf("%s/work_packages/schemas/%d-%d", APIPrefix, projectID, typeID)
}
