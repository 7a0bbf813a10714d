package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/pkg/logger"
)

var (
	ErrSiteExists   = errors.New("site already registered")
	ErrSiteNotFound = errors.New("site not found")
	ErrInvalidURL   = errors.New("invalid site url")
)

const apiKeyPrefix = "sg_"

type SiteService struct {
	db *gorm.DB
}

func NewSiteService(db *gorm.DB) *SiteService {
	return &SiteService{db: db}
}

type RegisterSiteRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url" binding:"required"`
	Country string `json:"country"`
}

// RegisteredSite is returned once, at registration; the key is not shown again.
type RegisteredSite struct {
	Site   *models.Site `json:"site"`
	APIKey string       `json:"api_key"`
}

// NormalizeSiteURL lowercases scheme and host and drops the trailing slash so
// the same site cannot register twice under cosmetic variations.
func NormalizeSiteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path, nil
}

func newAPIKey() string {
	return apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register creates a site and its API key.
func (s *SiteService) Register(ctx context.Context, req *RegisterSiteRequest) (*RegisteredSite, error) {
	siteURL, err := NormalizeSiteURL(req.URL)
	if err != nil {
		return nil, err
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" || !detector.IsSupportedCountry(country) {
		country = detector.CountryNone
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = siteURL
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Site{}).Where("url = ?", siteURL).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrSiteExists
	}

	site := &models.Site{
		ID:       uuid.NewString(),
		Name:     name,
		URL:      siteURL,
		APIKey:   newAPIKey(),
		Country:  country,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(site).Error; err != nil {
		return nil, err
	}
	logger.Info().Str("site", site.ID).Str("url", site.URL).Msg("[Site] Registered")
	return &RegisteredSite{Site: site, APIKey: site.APIKey}, nil
}

// Exists reports whether a site with this URL is registered.
func (s *SiteService) Exists(ctx context.Context, rawURL string) (bool, error) {
	siteURL, err := NormalizeSiteURL(rawURL)
	if err != nil {
		return false, err
	}
	var count int64
	err = s.db.WithContext(ctx).Model(&models.Site{}).Where("url = ?", siteURL).Count(&count).Error
	return count > 0, err
}

// GetByAPIKey resolves an active site from its key.
func (s *SiteService) GetByAPIKey(ctx context.Context, key string) (*models.Site, error) {
	if key == "" {
		return nil, ErrSiteNotFound
	}
	var site models.Site
	err := s.db.WithContext(ctx).Where("api_key = ? AND is_active = ?", key, true).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *SiteService) GetByID(ctx context.Context, id string) (*models.Site, error) {
	var site models.Site
	err := s.db.WithContext(ctx).First(&site, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// RotateKey issues a new API key, invalidating the old one.
func (s *SiteService) RotateKey(ctx context.Context, id string) (string, error) {
	site, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	key := newAPIKey()
	if err := s.db.WithContext(ctx).Model(site).Update("api_key", key).Error; err != nil {
		return "", err
	}
	logger.Info().Str("site", id).Msg("[Site] API key rotated")
	return key, nil
}

// List returns all sites, newest first.
func (s *SiteService) List(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sites).Error
	return sites, err
}
