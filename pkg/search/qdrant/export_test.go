package qdrant

var (
	PointID      = pointID
	SplitTarget  = splitTarget
	BuildFilter  = filter
	PayloadToMap = payloadStrings
)
