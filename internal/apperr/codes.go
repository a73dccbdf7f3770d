package apperr

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal Code = "INTERNAL"

	// Validation
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidRoute      Code = "INVALID_ROUTE"
	CodeInsufficientStops Code = "INSUFFICIENT_STOPS"

	// Lookup
	CodeNotFound Code = "NOT_FOUND"

	// Authorization
	CodeNotAssigned  Code = "NOT_ASSIGNED"
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Session lifecycle
	CodeAlreadyStarted      Code = "ALREADY_STARTED"
	CodeTooEarly            Code = "TOO_EARLY"
	CodeNotStarted          Code = "NOT_STARTED"
	CodeAlreadyFinished     Code = "ALREADY_FINISHED"
	CodeAlreadyOpen         Code = "ALREADY_OPEN"
	CodeNoStationsLeft      Code = "NO_STATIONS_LEFT"
	CodeChildrenPending     Code = "CHILDREN_PENDING"
	CodeNoNextStation       Code = "NO_NEXT_STATION"
	CodeNotYetArrived       Code = "NOT_YET_ARRIVED"
	CodeIncompleteCheckouts Code = "INCOMPLETE_CHECKOUTS"
	CodeStationsInProgress  Code = "STATIONS_IN_PROGRESS"
	CodeConcurrentUpdate    Code = "CONCURRENT_UPDATE"

	// Ledger
	CodeInstructorNotPresent Code = "INSTRUCTOR_NOT_PRESENT"
	CodeNotRegistered        Code = "NOT_REGISTERED"
	CodeAlreadyDone          Code = "ALREADY_DONE"
	CodeNotCheckedIn         Code = "NOT_CHECKED_IN"
	CodeCheckedOut           Code = "CHECKED_OUT"
	CodeStationAlreadyLeft   Code = "STATION_ALREADY_LEFT"
)

// Kind maps a code to its taxonomy bucket.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidArgument, CodeInvalidRoute, CodeInsufficientStops:
		return KindValidation
	case CodeNotFound:
		return KindNotFound
	case CodeNotAssigned, CodeUnauthorized:
		return KindAuthorization
	case CodeInternal:
		return KindInternal
	default:
		return KindStateConflict
	}
}
