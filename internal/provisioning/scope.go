package provisioning

import "strings"

// RunOption adjusts a single pipeline run.
type RunOption func(*runOptions)

type runOptions struct {
	courseAllowed func(courseID string) bool
}

// WithCourseScope limits the run to courses allowed reports true for. A
// batch naming any other course is rejected as a *CourseScopeError before
// anything is looked up or written.
func WithCourseScope(allowed func(courseID string) bool) RunOption {
	return func(o *runOptions) {
		o.courseAllowed = allowed
	}
}

// CourseScopeError rejects a batch naming courses outside the uploader's
// restriction.
type CourseScopeError struct {
	CourseIDs []string `json:"forbiddenCourseIds"`
}

func (e *CourseScopeError) Error() string {
	return "courses outside your admin restriction: " + strings.Join(e.CourseIDs, ", ")
}

// CheckCourseScope names every distinct course of the batch that allowed
// rejects. A nil allowed admits every course.
func CheckCourseScope(batch ValidatedBatch, allowed func(courseID string) bool) error {
	if allowed == nil {
		return nil
	}
	var forbidden []string
	for _, id := range batch.CourseIDs() {
		if !allowed(id) {
			forbidden = append(forbidden, id)
		}
	}
	if len(forbidden) > 0 {
		return &CourseScopeError{CourseIDs: forbidden}
	}
	return nil
}
