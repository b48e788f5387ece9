package jobs

import (
	"github.com/fenilmodi00/ipo-aggregator/services"
	"github.com/sirupsen/logrus"
)

// CacheCleanupJob drops cache entries past their stale window
type CacheCleanupJob struct {
	CacheService *services.CacheService
}

func NewCacheCleanupJob(cacheService *services.CacheService) *CacheCleanupJob {
	return &CacheCleanupJob{CacheService: cacheService}
}

// Run sweeps the cache once and returns the number of removed entries
func (j *CacheCleanupJob) Run() int {
	removed := j.CacheService.Sweep()
	logrus.WithFields(logrus.Fields{
		"component": "CacheCleanupJob",
		"removed":   removed,
		"remaining": j.CacheService.Size(),
	}).Debug("Cache cleanup completed")
	return removed
}
