package service

import (
	"context"
	"fmt"

	"videodrive/internal/domain"
	"videodrive/internal/repository"
)

type StorageQuotaService struct {
	quotaRepo *repository.QuotaRepository
}

func NewStorageQuotaService(quotaRepo *repository.QuotaRepository) *StorageQuotaService {
	return &StorageQuotaService{
		quotaRepo: quotaRepo,
	}
}

func (s *StorageQuotaService) GetQuotaInfo(ctx context.Context, ownerID string) (*domain.QuotaInfo, error) {
	profile, err := s.quotaRepo.GetProfile(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	availableSpace := profile.QuotaBytes - profile.UsedBytes - profile.ReservedBytes
	if availableSpace < 0 {
		availableSpace = 0
	}
	usagePercent := float64(0)
	if profile.QuotaBytes > 0 {
		usagePercent = float64(profile.UsedBytes) / float64(profile.QuotaBytes) * 100
	}

	return &domain.QuotaInfo{
		TotalSpace:     profile.QuotaBytes,
		UsedSpace:      profile.UsedBytes,
		ReservedSpace:  profile.ReservedBytes,
		AvailableSpace: availableSpace,
		UsagePercent:   usagePercent,
		VideosCount:    profile.VideosCount,
	}, nil
}

func (s *StorageQuotaService) UpdateQuotaLimit(ctx context.Context, ownerID string, newLimit int64) error {
	if newLimit < 0 {
		return fmt.Errorf("new quota limit cannot be negative")
	}
	return s.quotaRepo.UpdateQuotaLimit(ctx, ownerID, newLimit)
}
