package acquisition

var SkippedTicks = skippedTicks
