package door

// Enrollment is the single-door enrollment state machine.
//
//	IDLE ──Start(u)──▶ ENROLLING(u) ──Cancel / scan finished──▶ IDLE
//
// Start while already enrolling replaces the target. Card conflicts and
// confirmation policy are the caller's concern. Not safe for concurrent
// use; Service guards it.
type Enrollment struct {
	userID   string
	username string
}

// Start enters ENROLLING for the given user, replacing any previous target.
func (e *Enrollment) Start(userID, username string) {
	e.userID = userID
	e.username = username
}

// Cancel returns to IDLE. It reports whether an enrollment was in progress.
func (e *Enrollment) Cancel() bool {
	wasEnrolling := e.userID != ""
	e.userID, e.username = "", ""
	return wasEnrolling
}

// Target returns the user being enrolled. ok is false while IDLE.
func (e *Enrollment) Target() (userID, username string, ok bool) {
	return e.userID, e.username, e.userID != ""
}

// Status returns a snapshot of the current state.
func (e *Enrollment) Status() EnrollmentStatus {
	if e.userID == "" {
		return EnrollmentStatus{State: StateIdle}
	}
	return EnrollmentStatus{State: StateEnrolling, UserID: e.userID, Username: e.username}
}
