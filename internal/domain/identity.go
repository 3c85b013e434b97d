package domain

import "time"

// User is an entry of the identity store shared by every token shape.
type User struct {
	ID        string    `json:"id" db:"id"`
	Subject   *string   `json:"subject,omitempty" db:"subject"`
	Issuer    *string   `json:"issuer,omitempty" db:"issuer"`
	Email     *string   `json:"email,omitempty" db:"email"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// CourseMembership is the role set a user holds in one course.
type CourseMembership struct {
	CourseID string   `json:"courseId" db:"course_id"`
	UserID   string   `json:"userId" db:"user_id"`
	Roles    []string `json:"roles" db:"roles"`
}
