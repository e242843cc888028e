package intake

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "intake")
