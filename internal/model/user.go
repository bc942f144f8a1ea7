package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the user's platform role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// CanGrade reports whether the role may use the manual-grading surface.
func (r Role) CanGrade() bool {
	return r == RoleAdmin || r == RoleTutor
}

// User is an authenticated platform account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// LoginResponse is returned after successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Enrollment links a learner to a course; eligibility for an assessment
// requires an enrollment in its course.
type Enrollment struct {
	ID         uuid.UUID `json:"id"`
	LearnerID  uuid.UUID `json:"learner_id"`
	CourseID   uuid.UUID `json:"course_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
