package incremental

import "errors"

// ErrVcsRequired is returned when AnalyzeIncremental is pointed at a
// path that is not a VCS working tree.
var ErrVcsRequired = errors.New("incremental: path is not a vcs working tree")
