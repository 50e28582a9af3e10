package model

// Media is the attributed lead-source label.
type Media string

const (
	MediaSnapJob       Media = "snapjob"
	MediaJobseekerNavi Media = "jobseeker_navi"
	MediaCareerIndex   Media = "career_index"
	MediaForwarded     Media = "forwarded"
	MediaUnclassified  Media = "unclassified"
)

// RouteEmail marks customers acquired through the email intake.
const RouteEmail = "email"
