package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "scholarai"

	// ProfileModulePrefix 用户档案模块
	ProfileModulePrefix = "profile"
	// PlanModulePrefix 行动计划模块
	PlanModulePrefix = "plan"
	// ScanModulePrefix 机会扫描模块
	ScanModulePrefix = "scan"

	// EntityData 档案数据实体
	EntityData = "data"
	// EntityItems 计划条目实体
	EntityItems = "items"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyProfileData 用户档案 JSON (STRING)
	// 格式: scholarai:profile:data:{ownerID}
	KeyProfileData = AppPrefix + ":" + ProfileModulePrefix + ":" + EntityData + ":%s"

	// KeyPlanItems 行动计划条目列表 JSON (STRING)
	// 格式: scholarai:plan:items:{ownerID}
	KeyPlanItems = AppPrefix + ":" + PlanModulePrefix + ":" + EntityItems + ":%s"

	// KeyScanLock 定时重扫互斥锁 (STRING)
	// 格式: scholarai:scan:lock:{ownerID}
	KeyScanLock = AppPrefix + ":" + ScanModulePrefix + ":" + EntityLock + ":%s"
)
