package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源键/路由策略/命中状态字段，供代理请求日志复用。
func RequestFields(method, identity, key, policy string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":    method,
		"identity":  identity,
		"key":       key,
		"policy":    policy,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 用于 install/activate/reconcile 等生命周期事件。
func LifecycleFields(action string, resources int) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"resources": resources,
	}
}
