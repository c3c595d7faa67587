package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/you/accountportal/domain"
)

var ErrDeviceTokenInvalid = errors.New("invalid device token")

// deviceClaims carries the device scope id in the subject
type deviceClaims struct {
	jwt.RegisteredClaims
}

// DeviceTokenServiceImpl implements domain.DeviceTokenService
type DeviceTokenServiceImpl struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewDeviceTokenService creates a new device token service
func NewDeviceTokenService(secretKey, issuer string, ttl time.Duration) domain.DeviceTokenService {
	return &DeviceTokenServiceImpl{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// Issue implements domain.DeviceTokenService
func (s *DeviceTokenServiceImpl) Issue(deviceID string) (string, error) {
	now := time.Now()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Validate implements domain.DeviceTokenService and returns the device id
func (s *DeviceTokenServiceImpl) Validate(tokenString string) (string, error) {
	var claims deviceClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrDeviceTokenInvalid
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrDeviceTokenInvalid
	}

	if claims.Subject == "" {
		return "", ErrDeviceTokenInvalid
	}
	return claims.Subject, nil
}
