package utils

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GetUUID 生成调试会话id
func GetUUID() string {
	u1, err := uuid.NewUUID()
	if err != nil {
		logrus.Errorf("[GetUUID] new uuid fail, err = %v", err)
		return uuid.NewString()
	}
	return u1.String()
}

// GetShortUUID 日志中使用的较短的会话id
func GetShortUUID() string {
	return GetUUID()[:8]
}
