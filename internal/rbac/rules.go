package rbac

// Permission names used by the API router.
const (
	PermRoomCreate = "room:create"
	PermRoomManage = "room:manage"
	PermRoomJoin   = "room:join"

	PermPaperGenerate = "paper:generate"
	PermPaperView     = "paper:view"
	PermPaperDownload = "paper:download"
	PermPaperShare    = "paper:share"

	PermAssignmentCreate  = "assignment:create"
	PermAssignmentViewAll = "assignment:view-all"
	PermAssignmentViewOwn = "assignment:view-own"
	PermAssignmentSubmit  = "assignment:submit"
	PermAssignmentGrade   = "assignment:grade"

	PermProgressSave    = "progress:save"
	PermProgressViewOwn = "progress:view-own"
	PermProgressViewAll = "progress:view-all"

	PermAIGenerate   = "ai:generate"
	PermAIEvaluate   = "ai:evaluate"
	PermAIPlagiarism = "ai:plagiarism"
)

var RolePermissions = map[string][]string{
	"student": {
		PermRoomJoin,
		PermPaperView,
		PermAssignmentViewOwn,
		PermAssignmentSubmit,
		PermProgressSave,
		PermProgressViewOwn,
		PermAIEvaluate,
	},
	"teacher": {
		PermRoomCreate,
		PermRoomManage,
		"paper:*",
		"assignment:*",
		"progress:view-all",
		"ai:*",
	},
	"admin": {
		"*",
	},
}
